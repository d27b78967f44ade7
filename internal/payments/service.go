package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/money"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	"github.com/vidorahq/vidora-billing/pkg/pagination"
)

type customerResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the payment lifecycle surface.
type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*models.Payment, error)
	Confirm(ctx context.Context, paymentID uuid.UUID, methodRef string) (*models.Payment, error)
	// SyncStatus polls the provider and advances the local row if the
	// provider reports a forward transition. Safe to call repeatedly.
	SyncStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	// ApplyExternalStatus advances the local row from a provider-pushed
	// result (webhook delivery). Out-of-order and duplicate deliveries are
	// no-ops under the forward-only transition rule.
	ApplyExternalStatus(ctx context.Context, provider enums.Provider, providerPaymentID string, result *gateway.PaymentResult) (*models.Payment, error)
	Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Payment, *pagination.Cursor, error)
}

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	Repo              Repository
	Router            *gateway.Router
	Customers         customerResolver
	Outbox            eventEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// CreateIntentInput captures the data required to start a charge.
type CreateIntentInput struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Provider       enums.Provider
	Amount         decimal.Decimal
	Currency       string
	Purpose        enums.PaymentPurpose
	MethodRef      string
	Description    string
	Metadata       map[string]string
}

type service struct {
	repo      Repository
	router    *gateway.Router
	customers customerResolver
	outbox    eventEmitter
	txRunner  txRunner
	logg      *logger.Logger
}

// NewService builds a payment service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repo required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer resolver required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		router:    params.Router,
		customers: params.Customers,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.Payment, error) {
	if err := money.ValidateAmount(input.Amount, input.Currency); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if !input.Purpose.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment purpose")
	}

	adapter, err := s.router.Adapter(input.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	customerRef, err := s.customers.Resolve(ctx, input.UserID, input.Provider)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithProvider(ctx, input.Provider.String())
	result, err := adapter.CreatePaymentIntent(ctx, gateway.CreatePaymentIntentInput{
		Amount:      input.Amount,
		Currency:    input.Currency,
		CustomerRef: customerRef,
		MethodRef:   input.MethodRef,
		Description: input.Description,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return nil, gateway.Coded(err)
	}

	payment := &models.Payment{
		UserID:            input.UserID,
		SubscriptionID:    input.SubscriptionID,
		Provider:          input.Provider,
		ProviderPaymentID: result.ProviderPaymentID,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Status:            result.Status,
		Purpose:           input.Purpose,
		RefundedAmount:    decimal.Zero,
	}
	applyResultFields(payment, result)

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return err
		}
		return s.emitTerminal(ctx, tx, payment)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving payment")
	}

	s.logg.Info(s.logg.WithPaymentID(ctx, payment.ID.String()), "payment intent created")
	return payment, nil
}

func (s *service) Confirm(ctx context.Context, paymentID uuid.UUID, methodRef string) (*models.Payment, error) {
	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusPending && payment.Status != enums.PaymentStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not awaiting confirmation").
			WithDetails(map[string]string{"status": payment.Status.String()})
	}

	adapter, err := s.router.Adapter(payment.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	ctx = s.logg.WithPaymentID(s.logg.WithProvider(ctx, payment.Provider.String()), payment.ID.String())
	result, err := adapter.ConfirmPayment(ctx, payment.ProviderPaymentID, methodRef)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	return s.advance(ctx, payment, result)
}

func (s *service) SyncStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	adapter, err := s.router.Adapter(payment.Provider)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	ctx = s.logg.WithPaymentID(s.logg.WithProvider(ctx, payment.Provider.String()), payment.ID.String())
	result, err := adapter.GetPaymentStatus(ctx, payment.ProviderPaymentID)
	if err != nil {
		return nil, gateway.Coded(err)
	}

	return s.advance(ctx, payment, result)
}

func (s *service) ApplyExternalStatus(ctx context.Context, provider enums.Provider, providerPaymentID string, result *gateway.PaymentResult) (*models.Payment, error) {
	payment, err := s.repo.FindByProviderPaymentID(ctx, provider, providerPaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment by provider reference")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment matches the provider reference")
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	ctx = s.logg.WithPaymentID(s.logg.WithProvider(ctx, provider.String()), payment.ID.String())
	return s.advance(ctx, payment, result)
}

func (s *service) Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.loadPayment(ctx, paymentID)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Payment, *pagination.Cursor, error) {
	rows, next, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payments")
	}
	return rows, next, nil
}

func (s *service) loadPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// advance applies the provider-reported state to the local row. Transitions
// only ever move forward; a stale poll result is a no-op.
func (s *service) advance(ctx context.Context, payment *models.Payment, result *gateway.PaymentResult) (*models.Payment, error) {
	if result.Status == payment.Status {
		applyResultFields(payment, result)
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(result.Status) {
		s.logg.Warn(ctx, fmt.Sprintf("ignoring provider status %s for payment in %s", result.Status, payment.Status))
		return payment, nil
	}

	updates := transitionUpdates(result)
	from := payment.Status

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, payment.ID, from, result.Status, updates)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment was modified concurrently")
		}

		payment.Status = result.Status
		applyResultFields(payment, result)
		if at, ok := updates["paid_at"].(time.Time); ok {
			payment.PaidAt = &at
		}
		return s.emitTerminal(ctx, tx, payment)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advancing payment")
	}
	return payment, nil
}

// emitTerminal queues the success/failure notification when the payment has
// just reached a reportable state.
func (s *service) emitTerminal(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	var eventType enums.OutboxEventType
	switch payment.Status {
	case enums.PaymentStatusSucceeded:
		eventType = enums.OutboxEventPaymentSucceeded
	case enums.PaymentStatusFailed:
		eventType = enums.OutboxEventPaymentFailed
	default:
		return nil
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregatePayment,
		AggregateID:   payment.ID,
		Data: map[string]any{
			"paymentId":      payment.ID.String(),
			"userId":         payment.UserID.String(),
			"provider":       payment.Provider.String(),
			"amount":         payment.Amount.String(),
			"currency":       payment.Currency,
			"purpose":        payment.Purpose.String(),
			"failureCode":    payment.FailureCode,
			"failureMessage": payment.FailureMessage,
		},
	})
}

func applyResultFields(payment *models.Payment, result *gateway.PaymentResult) {
	if result.ReceiptURL != "" {
		payment.ReceiptURL = &result.ReceiptURL
	}
	if result.Failure != nil {
		payment.FailureCode = &result.Failure.Code
		payment.FailureMessage = &result.Failure.Message
	}
	if result.Status == enums.PaymentStatusSucceeded && payment.PaidAt == nil {
		now := time.Now().UTC()
		payment.PaidAt = &now
	}
}

func transitionUpdates(result *gateway.PaymentResult) map[string]any {
	updates := map[string]any{}
	if result.Status == enums.PaymentStatusSucceeded {
		updates["paid_at"] = time.Now().UTC()
	}
	if result.ReceiptURL != "" {
		updates["receipt_url"] = result.ReceiptURL
	}
	if result.Failure != nil {
		updates["failure_code"] = result.Failure.Code
		updates["failure_message"] = result.Failure.Message
	}
	return updates
}
