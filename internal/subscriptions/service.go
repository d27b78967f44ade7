package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	"github.com/vidorahq/vidora-billing/pkg/redis"
)

// lockTTL bounds how long a writer may hold a subscription's advisory lock.
// Generous enough for one gateway round trip plus the commit.
const lockTTL = 30 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type customerResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error)
}

type planCatalog interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	ResolveCoupon(ctx context.Context, code string, currency string, now time.Time) (*models.Coupon, error)
}

type couponRedeemer interface {
	RedeemCoupon(ctx context.Context, id uuid.UUID) (bool, error)
}

type methodFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
}

type charger interface {
	CreateIntent(ctx context.Context, input payments.CreateIntentInput) (*models.Payment, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AdvisoryLock is the single-holder lock serializing writers on one
// subscription (cancel vs renew).
type AdvisoryLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// LockFactory builds the advisory lock for a subscription id. Production
// wiring hands out redis locks; tests substitute in-memory ones.
type LockFactory func(subscriptionID uuid.UUID) AdvisoryLock

// RedisLockFactory adapts the shared redis client to LockFactory.
func RedisLockFactory(client *redis.Client) LockFactory {
	return func(subscriptionID uuid.UUID) AdvisoryLock {
		return client.NewLock("subscription", subscriptionID.String(), lockTTL)
	}
}

// Service defines the subscription lifecycle surface.
type Service interface {
	Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error)
	// Renew re-attempts billing outside the provider-driven cycle. Manual
	// renewals skip the gateway entirely; provider and local state may
	// diverge until the next webhook reconciles them.
	Renew(ctx context.Context, subscriptionID uuid.UUID, manual bool) (*models.Subscription, error)
	Cancel(ctx context.Context, subscriptionID uuid.UUID, immediately bool) (*models.Subscription, error)
	Update(ctx context.Context, subscriptionID uuid.UUID, input UpdateSubscriptionInput) (*models.Subscription, error)
	Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	// SyncFromProvider reconciles the local row with a provider-pushed state
	// (webhook delivery). Closed subscriptions and stale deliveries are
	// no-ops, so replays are safe.
	SyncFromProvider(ctx context.Context, provider enums.Provider, providerSubscriptionID string, result *gateway.SubscriptionResult) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	Catalog           planCatalog
	Coupons           couponRedeemer
	Customers         customerResolver
	Methods           methodFinder
	Router            *gateway.Router
	Charger           charger
	Outbox            eventEmitter
	Locks             LockFactory
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// CreateSubscriptionInput captures the data required to start a subscription.
type CreateSubscriptionInput struct {
	UserID          uuid.UUID
	PlanID          uuid.UUID
	Provider        enums.Provider
	Currency        string
	PaymentMethodID *uuid.UUID
	CouponCode      string
	Metadata        map[string]string
}

// UpdateSubscriptionInput mutates the only two fields a live subscription
// allows. Plan changes require cancel plus recreate.
type UpdateSubscriptionInput struct {
	AutoRenew       *bool
	PaymentMethodID *uuid.UUID
}

type service struct {
	repo      Repository
	catalog   planCatalog
	coupons   couponRedeemer
	customers customerResolver
	methods   methodFinder
	router    *gateway.Router
	charger   charger
	outbox    eventEmitter
	locks     LockFactory
	txRunner  txRunner
	logg      *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscriptions repo required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon redeemer required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer resolver required")
	}
	if params.Methods == nil {
		return nil, fmt.Errorf("payment method finder required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.Charger == nil {
		return nil, fmt.Errorf("payment charger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		catalog:   params.Catalog,
		coupons:   params.Coupons,
		customers: params.Customers,
		methods:   params.Methods,
		router:    params.Router,
		charger:   params.Charger,
		outbox:    params.Outbox,
		locks:     params.Locks,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

// subscriptionMeta is the jsonb payload stored alongside a subscription.
// Currency pins renewal charges and revenue math to the checkout currency.
type subscriptionMeta struct {
	Currency    string `json:"currency"`
	CouponCode  string `json:"couponCode,omitempty"`
	AgreementNo string `json:"agreementNo,omitempty"`
}

func decodeMeta(raw json.RawMessage) subscriptionMeta {
	var meta subscriptionMeta
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta
}

func (s *service) Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error) {
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}

	plan, err := s.catalog.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is not available for sale")
	}
	if _, ok := plan.Prices.Price(currency); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan has no %s price", currency))
	}

	existing, err := s.repo.FindLiveByUser(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking existing subscription")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user already holds a live subscription").
			WithDetails(map[string]string{"subscriptionId": existing.ID.String()})
	}

	var coupon *models.Coupon
	if strings.TrimSpace(input.CouponCode) != "" {
		coupon, err = s.catalog.ResolveCoupon(ctx, input.CouponCode, currency, time.Now().UTC())
		if err != nil {
			return nil, err
		}
	}

	adapter, err := s.router.Adapter(input.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	customerRef, err := s.customers.Resolve(ctx, input.UserID, input.Provider)
	if err != nil {
		return nil, err
	}

	var methodID *uuid.UUID
	providerMeta := map[string]string{}
	for key, value := range input.Metadata {
		providerMeta[key] = value
	}
	if input.PaymentMethodID != nil {
		method, err := s.loadMethod(ctx, *input.PaymentMethodID, input.UserID, input.Provider)
		if err != nil {
			return nil, err
		}
		if err := adapter.AttachPaymentMethod(ctx, customerRef, method.ProviderToken); err != nil {
			return nil, gateway.Coded(err)
		}
		methodID = &method.ID
	}

	ctx = s.logg.WithProvider(ctx, input.Provider.String())
	result, err := adapter.CreateSubscription(ctx, gateway.CreateSubscriptionInput{
		CustomerRef:  customerRef,
		PlanPriceRef: plan.ProviderPriceRef,
		TrialDays:    plan.TrialDays,
		Metadata:     providerMeta,
	})
	if err != nil {
		return nil, gateway.Coded(err)
	}

	subscription := buildSubscription(input, plan, currency, result)
	subscription.PaymentMethodID = methodID

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, subscription); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.OutboxEventSubscriptionCreated, subscription, map[string]any{
			"planId":   plan.ID.String(),
			"planCode": plan.Code,
			"currency": currency,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving subscription")
	}

	if coupon != nil {
		redeemed, err := s.coupons.RedeemCoupon(ctx, coupon.ID)
		if err != nil || !redeemed {
			// Cap races with a concurrent checkout: the subscription stands,
			// only the counter bump is lost.
			s.logg.Warn(ctx, fmt.Sprintf("coupon %s redemption not recorded", coupon.Code))
		}
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, subscription.ID.String()), "subscription created")
	return subscription, nil
}

func (s *service) Renew(ctx context.Context, subscriptionID uuid.UUID, manual bool) (*models.Subscription, error) {
	release, err := s.lock(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer release()

	subscription, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription can no longer be renewed").
			WithDetails(map[string]string{"status": subscription.Status.String()})
	}
	lapsed := time.Now().UTC().After(subscription.CurrentPeriodEnd)
	if subscription.Status != enums.SubscriptionStatusPastDue && !lapsed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is current and does not need renewal")
	}

	plan, err := s.catalog.GetPlan(ctx, subscription.PlanID)
	if err != nil {
		return nil, err
	}
	months := plan.Period.Months()
	if months == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lifetime plans do not renew")
	}

	ctx = s.logg.WithSubscriptionID(ctx, subscription.ID.String())

	if !manual {
		if err := s.chargeRenewal(ctx, subscription, plan); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	newStart := subscription.CurrentPeriodEnd
	if now.After(newStart) {
		newStart = now
	}
	newEnd := newStart.AddDate(0, months, 0)

	from := subscription.Status
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, subscription.ID, from, enums.SubscriptionStatusActive, map[string]any{
			"current_period_start": newStart,
			"current_period_end":   newEnd,
		})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription was modified concurrently")
		}
		subscription.Status = enums.SubscriptionStatusActive
		subscription.CurrentPeriodStart = newStart
		subscription.CurrentPeriodEnd = newEnd
		return s.emit(ctx, tx, enums.OutboxEventSubscriptionRenewed, subscription, map[string]any{
			"manual":      manual,
			"periodStart": newStart,
			"periodEnd":   newEnd,
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "renewing subscription")
	}

	s.logg.Info(ctx, "subscription renewed")
	return subscription, nil
}

// chargeRenewal bills one period through the gateway. A declined charge
// leaves the subscription untouched for the retry cron.
func (s *service) chargeRenewal(ctx context.Context, subscription *models.Subscription, plan *models.SubscriptionPlan) error {
	meta := decodeMeta(subscription.Metadata)
	currency := meta.Currency
	if currency == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription has no billing currency recorded")
	}
	price, ok := plan.Prices.Price(currency)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan has no %s price", currency))
	}

	var methodRef string
	if subscription.PaymentMethodID != nil {
		method, err := s.methods.FindByID(ctx, *subscription.PaymentMethodID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment method")
		}
		if method != nil {
			methodRef = method.ProviderToken
		}
	}

	payment, err := s.charger.CreateIntent(ctx, payments.CreateIntentInput{
		UserID:         subscription.UserID,
		SubscriptionID: &subscription.ID,
		Provider:       subscription.Provider,
		Amount:         price,
		Currency:       currency,
		Purpose:        enums.PaymentPurposeRenewal,
		MethodRef:      methodRef,
		Description:    fmt.Sprintf("Renewal of %s", plan.Name),
	})
	if err != nil {
		return err
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		err := pkgerrors.New(pkgerrors.CodeDeclined, "renewal charge was not completed").
			WithDetails(map[string]string{
				"paymentId": payment.ID.String(),
				"status":    payment.Status.String(),
			})
		s.logg.Warn(ctx, "renewal charge did not succeed")
		return err
	}
	return nil
}

func (s *service) Cancel(ctx context.Context, subscriptionID uuid.UUID, immediately bool) (*models.Subscription, error) {
	release, err := s.lock(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer release()

	subscription, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already closed").
			WithDetails(map[string]string{"status": subscription.Status.String()})
	}

	ctx = s.logg.WithSubscriptionID(ctx, subscription.ID.String())

	if subscription.HasProviderRecord() {
		adapter, err := s.router.Adapter(subscription.Provider)
		if err != nil {
			return nil, gateway.Coded(err)
		}
		if err := adapter.CancelSubscription(ctx, *subscription.ProviderSubscriptionID, immediately); err != nil {
			return nil, gateway.Coded(err)
		}
	}

	if !immediately {
		err := s.repo.UpdateFields(ctx, subscription.ID, map[string]any{"auto_renew": false})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disabling auto renew")
		}
		subscription.AutoRenew = false
		s.logg.Info(ctx, "subscription set to cancel at period end")
		return subscription, nil
	}

	now := time.Now().UTC()
	from := subscription.Status
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, subscription.ID, from, enums.SubscriptionStatusCanceled, map[string]any{
			"auto_renew":  false,
			"canceled_at": now,
		})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription was modified concurrently")
		}
		subscription.Status = enums.SubscriptionStatusCanceled
		subscription.AutoRenew = false
		subscription.CanceledAt = &now
		return s.emit(ctx, tx, enums.OutboxEventSubscriptionCanceled, subscription, map[string]any{
			"immediately": true,
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "canceling subscription")
	}

	s.logg.Info(ctx, "subscription canceled")
	return subscription, nil
}

func (s *service) Update(ctx context.Context, subscriptionID uuid.UUID, input UpdateSubscriptionInput) (*models.Subscription, error) {
	if input.AutoRenew == nil && input.PaymentMethodID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	subscription, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is closed").
			WithDetails(map[string]string{"status": subscription.Status.String()})
	}

	updates := map[string]any{}
	if input.AutoRenew != nil {
		updates["auto_renew"] = *input.AutoRenew
		subscription.AutoRenew = *input.AutoRenew
	}
	if input.PaymentMethodID != nil {
		method, err := s.loadMethod(ctx, *input.PaymentMethodID, subscription.UserID, subscription.Provider)
		if err != nil {
			return nil, err
		}
		updates["payment_method_id"] = method.ID
		subscription.PaymentMethodID = &method.ID
	}

	if err := s.repo.UpdateFields(ctx, subscription.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating subscription")
	}
	return subscription, nil
}

func (s *service) Get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	return s.loadSubscription(ctx, subscriptionID)
}

func (s *service) GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	subscription, err := s.repo.FindLiveByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading current subscription")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no live subscription")
	}
	return subscription, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	subscriptions, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing subscriptions")
	}
	return subscriptions, nil
}

func (s *service) SyncFromProvider(ctx context.Context, provider enums.Provider, providerSubscriptionID string, result *gateway.SubscriptionResult) (*models.Subscription, error) {
	subscription, err := s.repo.FindByProviderSubscriptionID(ctx, provider, providerSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription by provider reference")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription matches the provider reference")
	}
	if subscription.Status.IsTerminal() {
		return subscription, nil
	}

	release, err := s.lock(ctx, subscription.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Reload under the lock; the row may have moved since the lookup.
	subscription, err = s.loadSubscription(ctx, subscription.ID)
	if err != nil {
		return nil, err
	}
	if subscription.Status.IsTerminal() {
		return subscription, nil
	}

	ctx = s.logg.WithSubscriptionID(s.logg.WithProvider(ctx, provider.String()), subscription.ID.String())

	if result.Status == enums.SubscriptionStatusCanceled {
		return s.applyProviderCancel(ctx, subscription)
	}

	status := result.Status
	if !status.IsValid() {
		status = subscription.Status
	}

	updates := map[string]any{}
	periodAdvanced := false
	if result.CurrentPeriodEnd != nil && result.CurrentPeriodEnd.After(subscription.CurrentPeriodEnd) {
		periodAdvanced = true
		updates["current_period_end"] = *result.CurrentPeriodEnd
		if result.CurrentPeriodStart != nil {
			updates["current_period_start"] = *result.CurrentPeriodStart
		}
	}
	if status == subscription.Status && !periodAdvanced {
		return subscription, nil
	}

	from := subscription.Status
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, subscription.ID, from, status, updates)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription was modified concurrently")
		}
		subscription.Status = status
		if periodAdvanced {
			subscription.CurrentPeriodEnd = *result.CurrentPeriodEnd
			if result.CurrentPeriodStart != nil {
				subscription.CurrentPeriodStart = *result.CurrentPeriodStart
			}
		}
		if periodAdvanced && status == enums.SubscriptionStatusActive {
			return s.emit(ctx, tx, enums.OutboxEventSubscriptionRenewed, subscription, map[string]any{
				"manual":      false,
				"periodStart": subscription.CurrentPeriodStart,
				"periodEnd":   subscription.CurrentPeriodEnd,
			})
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "syncing subscription")
	}

	s.logg.Info(ctx, "subscription synced from provider")
	return subscription, nil
}

// applyProviderCancel closes a subscription the provider reports as canceled
// (dunning exhausted, agreement unsigned, or a cancellation made upstream).
func (s *service) applyProviderCancel(ctx context.Context, subscription *models.Subscription) (*models.Subscription, error) {
	now := time.Now().UTC()
	from := subscription.Status
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, subscription.ID, from, enums.SubscriptionStatusCanceled, map[string]any{
			"auto_renew":  false,
			"canceled_at": now,
		})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription was modified concurrently")
		}
		subscription.Status = enums.SubscriptionStatusCanceled
		subscription.AutoRenew = false
		subscription.CanceledAt = &now
		return s.emit(ctx, tx, enums.OutboxEventSubscriptionCanceled, subscription, map[string]any{
			"immediately": true,
			"source":      "provider",
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing subscription from provider state")
	}

	s.logg.Info(ctx, "subscription canceled by provider")
	return subscription, nil
}

func (s *service) lock(ctx context.Context, subscriptionID uuid.UUID) (func(), error) {
	lock := s.locks(subscriptionID)
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is being modified by another request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring subscription lock")
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(ctx, "failed to release subscription lock")
		}
	}, nil
}

func (s *service) loadSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return subscription, nil
}

func (s *service) loadMethod(ctx context.Context, methodID, userID uuid.UUID, provider enums.Provider) (*models.PaymentMethod, error) {
	method, err := s.methods.FindByID(ctx, methodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment method")
	}
	if method == nil || method.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	if method.Provider != provider {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method belongs to a different provider")
	}
	return method, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, subscription *models.Subscription, extra map[string]any) error {
	data := map[string]any{
		"subscriptionId": subscription.ID.String(),
		"userId":         subscription.UserID.String(),
		"provider":       subscription.Provider.String(),
		"status":         subscription.Status.String(),
	}
	for key, value := range extra {
		data[key] = value
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregateSubscription,
		AggregateID:   subscription.ID,
		Data:          data,
	})
}

// buildSubscription derives the local row from the provider response, filling
// period bounds the provider did not report (Alipay agreements carry none).
func buildSubscription(input CreateSubscriptionInput, plan *models.SubscriptionPlan, currency string, result *gateway.SubscriptionResult) *models.Subscription {
	now := time.Now().UTC()

	status := result.Status
	if !status.IsValid() {
		if plan.TrialDays > 0 {
			status = enums.SubscriptionStatusTrialing
		} else {
			status = enums.SubscriptionStatusActive
		}
	}

	periodStart := now
	if result.CurrentPeriodStart != nil {
		periodStart = *result.CurrentPeriodStart
	}
	var periodEnd time.Time
	switch {
	case result.CurrentPeriodEnd != nil:
		periodEnd = *result.CurrentPeriodEnd
	case plan.Period == enums.BillingPeriodLifetime:
		// Far-future sentinel; lifetime rows never cycle.
		periodEnd = periodStart.AddDate(100, 0, 0)
	default:
		periodEnd = periodStart.AddDate(0, plan.Period.Months(), 0)
	}

	var trialEnd *time.Time
	if result.TrialEnd != nil {
		trialEnd = result.TrialEnd
	} else if plan.TrialDays > 0 {
		end := periodStart.AddDate(0, 0, plan.TrialDays)
		trialEnd = &end
	}

	meta := subscriptionMeta{
		Currency:    currency,
		CouponCode:  strings.TrimSpace(input.CouponCode),
		AgreementNo: input.Metadata["agreement_no"],
	}
	rawMeta, _ := json.Marshal(meta)

	var providerSubscriptionID *string
	if result.SubscriptionID != "" {
		id := result.SubscriptionID
		providerSubscriptionID = &id
	}

	return &models.Subscription{
		UserID:                 input.UserID,
		PlanID:                 plan.ID,
		Provider:               input.Provider,
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 status,
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		AutoRenew:              true,
		TrialEnd:               trialEnd,
		Metadata:               rawMeta,
	}
}
