package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// openStatuses are the in-flight states. The partial unique index on
// refund_requests(payment_id) uses the same set: one live request per payment.
var openStatuses = []enums.RefundStatus{
	enums.RefundStatusPending,
	enums.RefundStatusFirstApproved,
	enums.RefundStatusApproved,
	enums.RefundStatusProcessing,
}

// Repository handles refund request persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.RefundRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindOpenByPayment(ctx context.Context, paymentID uuid.UUID) (*models.RefundRequest, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	ListByStatus(ctx context.Context, status enums.RefundStatus, limit int) ([]models.RefundRequest, error)
	// ListStuckProcessing returns processing rows whose intent was recorded
	// before the cutoff, for the recovery cron.
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.RefundRequest, error)
	// TransitionStatus compare-and-sets the status, applying extra column
	// updates in the same statement. Returns false when the row was not in
	// the expected status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from enums.RefundStatus, to enums.RefundStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refund repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindOpenByPayment(ctx context.Context, paymentID uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND status IN ?", paymentID, openStatuses).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.RefundStatus, limit int) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND processing_at < ?", enums.RefundStatusProcessing, cutoff).
		Order("processing_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from enums.RefundStatus, to enums.RefundStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
