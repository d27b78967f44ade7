package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	"github.com/vidorahq/vidora-billing/pkg/pagination"
)

type stubRepo struct {
	payments    map[uuid.UUID]*models.Payment
	created     []*models.Payment
	transitions []enums.PaymentStatus
	denyCAS     bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{payments: map[uuid.UUID]*models.Payment{}}
}

func (r *stubRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	r.created = append(r.created, payment)
	r.payments[payment.ID] = payment
	return nil
}

func (r *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	copied := *payment
	return &copied, nil
}

func (r *stubRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.FindByID(ctx, id)
}

func (r *stubRepo) FindByProviderPaymentID(ctx context.Context, provider enums.Provider, providerPaymentID string) (*models.Payment, error) {
	for _, payment := range r.payments {
		if payment.Provider == provider && payment.ProviderPaymentID == providerPaymentID {
			copied := *payment
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Payment, *pagination.Cursor, error) {
	var rows []models.Payment
	for _, payment := range r.payments {
		if payment.UserID == userID {
			rows = append(rows, *payment)
		}
	}
	return rows, nil, nil
}

func (r *stubRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	if r.denyCAS {
		return false, nil
	}
	payment, ok := r.payments[id]
	if !ok || payment.Status != from {
		return false, nil
	}
	payment.Status = to
	r.transitions = append(r.transitions, to)
	return true, nil
}

func (r *stubRepo) ApplyRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, newStatus enums.PaymentStatus) error {
	payment := r.payments[id]
	payment.RefundedAmount = payment.RefundedAmount.Add(amount)
	payment.Status = newStatus
	return nil
}

type stubGateway struct {
	provider      enums.Provider
	createResult  *gateway.PaymentResult
	confirmResult *gateway.PaymentResult
	statusResult  *gateway.PaymentResult
	err           error
}

func (g *stubGateway) Provider() enums.Provider { return g.provider }

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	return g.createResult, g.err
}

func (g *stubGateway) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*gateway.PaymentResult, error) {
	return g.confirmResult, g.err
}

func (g *stubGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	return g.statusResult, g.err
}

func (g *stubGateway) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	return nil, g.err
}

func (g *stubGateway) CreateCustomer(ctx context.Context, input gateway.CreateCustomerInput) (string, error) {
	return "cust-1", g.err
}

func (g *stubGateway) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	return g.err
}

func (g *stubGateway) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	return nil, g.err
}

func (g *stubGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	return g.err
}

func (g *stubGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	return g.err
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error) {
	return "cust-1", nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (e *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	e.events = append(e.events, event)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestService(t *testing.T, repo Repository, gw gateway.Gateway, emitter *stubEmitter) Service {
	t.Helper()
	router, err := gateway.NewRouter(gateway.RouterParams{Adapters: []gateway.Gateway{gw}})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Router:            router,
		Customers:         stubResolver{},
		Outbox:            emitter,
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "payments-test"}),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func TestCreateIntentPersistsProviderResult(t *testing.T) {
	repo := newStubRepo()
	emitter := &stubEmitter{}
	gw := &stubGateway{
		provider: enums.ProviderStripe,
		createResult: &gateway.PaymentResult{
			ProviderPaymentID: "pi_1",
			Status:            enums.PaymentStatusPending,
		},
	}
	svc := newTestService(t, repo, gw, emitter)

	payment, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID:   uuid.New(),
		Provider: enums.ProviderStripe,
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "USD",
		Purpose:  enums.PaymentPurposeSubscription,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if payment.ProviderPaymentID != "pi_1" {
		t.Fatalf("provider payment id not persisted")
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected status %s", payment.Status)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("pending payment should not emit events")
	}
}

func TestCreateIntentRejectsSubMinorUnitPrecision(t *testing.T) {
	svc := newTestService(t, newStubRepo(), &stubGateway{provider: enums.ProviderStripe}, &stubEmitter{})

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID:   uuid.New(),
		Provider: enums.ProviderStripe,
		Amount:   decimal.RequireFromString("9.999"),
		Currency: "USD",
		Purpose:  enums.PaymentPurposeOneTime,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateIntentUnknownProviderIsConfigError(t *testing.T) {
	svc := newTestService(t, newStubRepo(), &stubGateway{provider: enums.ProviderStripe}, &stubEmitter{})

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		UserID:   uuid.New(),
		Provider: enums.ProviderAlipay,
		Amount:   decimal.RequireFromString("9.99"),
		Currency: "USD",
		Purpose:  enums.PaymentPurposeOneTime,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestConfirmAdvancesAndEmitsSuccess(t *testing.T) {
	repo := newStubRepo()
	emitter := &stubEmitter{}
	payment := &models.Payment{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Provider:          enums.ProviderStripe,
		ProviderPaymentID: "pi_1",
		Amount:            decimal.RequireFromString("9.99"),
		Currency:          "USD",
		Status:            enums.PaymentStatusPending,
	}
	repo.payments[payment.ID] = payment

	gw := &stubGateway{
		provider: enums.ProviderStripe,
		confirmResult: &gateway.PaymentResult{
			Success:           true,
			ProviderPaymentID: "pi_1",
			Status:            enums.PaymentStatusSucceeded,
			ReceiptURL:        "https://pay.example/receipt",
		},
	}
	svc := newTestService(t, repo, gw, emitter)

	updated, err := svc.Confirm(context.Background(), payment.ID, "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Fatalf("paid_at should be set")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.OutboxEventPaymentSucceeded {
		t.Fatalf("expected payment.succeeded event, got %+v", emitter.events)
	}
}

func TestConfirmRejectsTerminalPayment(t *testing.T) {
	repo := newStubRepo()
	payment := &models.Payment{
		ID:       uuid.New(),
		Provider: enums.ProviderStripe,
		Status:   enums.PaymentStatusSucceeded,
	}
	repo.payments[payment.ID] = payment
	svc := newTestService(t, repo, &stubGateway{provider: enums.ProviderStripe}, &stubEmitter{})

	_, err := svc.Confirm(context.Background(), payment.ID, "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestSyncStatusIgnoresBackwardTransition(t *testing.T) {
	repo := newStubRepo()
	emitter := &stubEmitter{}
	payment := &models.Payment{
		ID:                uuid.New(),
		Provider:          enums.ProviderStripe,
		ProviderPaymentID: "pi_1",
		Status:            enums.PaymentStatusProcessing,
	}
	repo.payments[payment.ID] = payment

	gw := &stubGateway{
		provider: enums.ProviderStripe,
		statusResult: &gateway.PaymentResult{
			ProviderPaymentID: "pi_1",
			Status:            enums.PaymentStatusPending,
		},
	}
	svc := newTestService(t, repo, gw, emitter)

	updated, err := svc.SyncStatus(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.PaymentStatusProcessing {
		t.Fatalf("backward transition must be ignored, got %s", updated.Status)
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("no transition should be recorded")
	}
}

func TestSyncStatusConcurrentModificationIsStateConflict(t *testing.T) {
	repo := newStubRepo()
	repo.denyCAS = true
	payment := &models.Payment{
		ID:                uuid.New(),
		Provider:          enums.ProviderStripe,
		ProviderPaymentID: "pi_1",
		Status:            enums.PaymentStatusPending,
	}
	repo.payments[payment.ID] = payment

	gw := &stubGateway{
		provider: enums.ProviderStripe,
		statusResult: &gateway.PaymentResult{
			Success:           true,
			ProviderPaymentID: "pi_1",
			Status:            enums.PaymentStatusSucceeded,
		},
	}
	svc := newTestService(t, repo, gw, &stubEmitter{})

	_, err := svc.SyncStatus(context.Background(), payment.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
