package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// liveStatuses are the states that count as holding a subscription. The
// partial unique index on subscriptions(user_id) uses the same set.
var liveStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusTrialing,
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusPastDue,
}

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, provider enums.Provider, providerSubscriptionID string) (*models.Subscription, error)
	// FindLiveByUser returns the user's trialing/active/past_due subscription,
	// or nil when they hold none.
	FindLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	// TransitionStatus compare-and-sets the status, applying extra column
	// updates in the same statement. Returns false when the row was not in
	// the expected status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// ListDueForSweep returns live rows whose period lapsed before the cutoff,
	// for the period-end cron.
	ListDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
	ListPastDue(ctx context.Context, limit int) ([]models.Subscription, error)
	ListEntitledWithPlans(ctx context.Context) ([]SubscriptionWithPlan, error)
	CountCanceledBetween(ctx context.Context, from, to time.Time) (int64, error)
	// CountActiveAt approximates the live subscriber count at a past instant
	// from created_at and canceled_at bookkeeping.
	CountActiveAt(ctx context.Context, at time.Time) (int64, error)
}

// SubscriptionWithPlan joins a live subscription to its plan for revenue math.
type SubscriptionWithPlan struct {
	Subscription models.Subscription
	Plan         models.SubscriptionPlan
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).First(&subscription, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindByProviderSubscriptionID(ctx context.Context, provider enums.Provider, providerSubscriptionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, liveStatuses).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ? AND current_period_end < ?", liveStatuses, cutoff).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repository) ListPastDue(ctx context.Context, limit int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusPastDue).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repository) ListEntitledWithPlans(ctx context.Context) ([]SubscriptionWithPlan, error) {
	entitled := []enums.SubscriptionStatus{
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
	}

	var subscriptions []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status IN ?", entitled).
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	if len(subscriptions) == 0 {
		return nil, nil
	}

	planIDs := make([]uuid.UUID, 0, len(subscriptions))
	seen := map[uuid.UUID]bool{}
	for _, subscription := range subscriptions {
		if !seen[subscription.PlanID] {
			seen[subscription.PlanID] = true
			planIDs = append(planIDs, subscription.PlanID)
		}
	}

	var plans []models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id IN ?", planIDs).Find(&plans).Error; err != nil {
		return nil, err
	}
	plansByID := make(map[uuid.UUID]models.SubscriptionPlan, len(plans))
	for _, plan := range plans {
		plansByID[plan.ID] = plan
	}

	joined := make([]SubscriptionWithPlan, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		plan, ok := plansByID[subscription.PlanID]
		if !ok {
			continue
		}
		joined = append(joined, SubscriptionWithPlan{Subscription: subscription, Plan: plan})
	}
	return joined, nil
}

func (r *repository) CountCanceledBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status = ? AND canceled_at >= ? AND canceled_at < ?", enums.SubscriptionStatusCanceled, from, to).
		Count(&count).Error
	return count, err
}

func (r *repository) CountActiveAt(ctx context.Context, at time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("created_at < ?", at).
		Where("canceled_at IS NULL OR canceled_at >= ?", at).
		// Expired rows lapsed when their last period ended.
		Where("status <> ? OR current_period_end >= ?", enums.SubscriptionStatusExpired, at).
		Count(&count).Error
	return count, err
}
