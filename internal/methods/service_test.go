package methods

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type stubMethodsRepo struct {
	methods        map[uuid.UUID]*models.PaymentMethod
	clearedDefault []uuid.UUID
}

func newStubMethodsRepo() *stubMethodsRepo {
	return &stubMethodsRepo{methods: map[uuid.UUID]*models.PaymentMethod{}}
}

func (r *stubMethodsRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubMethodsRepo) Create(ctx context.Context, method *models.PaymentMethod) error {
	for _, existing := range r.methods {
		if existing.ProviderToken == method.ProviderToken {
			return errors.New(`duplicate key value violates unique constraint "payment_methods_provider_token_key" (SQLSTATE 23505)`)
		}
	}
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	r.methods[method.ID] = method
	return nil
}

func (r *stubMethodsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	method, ok := r.methods[id]
	if !ok {
		return nil, nil
	}
	copied := *method
	return &copied, nil
}

func (r *stubMethodsRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	var out []models.PaymentMethod
	for _, method := range r.methods {
		if method.UserID == userID {
			out = append(out, *method)
		}
	}
	return out, nil
}

func (r *stubMethodsRepo) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	r.clearedDefault = append(r.clearedDefault, userID)
	for _, method := range r.methods {
		if method.UserID == userID {
			method.IsDefault = false
		}
	}
	return nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error) {
	return "cust-1", nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type attachGateway struct {
	provider  enums.Provider
	attachErr error
	attached  []string
}

func (g *attachGateway) Provider() enums.Provider { return g.provider }
func (g *attachGateway) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	return nil, nil
}
func (g *attachGateway) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*gateway.PaymentResult, error) {
	return nil, nil
}
func (g *attachGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	return nil, nil
}
func (g *attachGateway) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	return nil, nil
}
func (g *attachGateway) CreateCustomer(ctx context.Context, input gateway.CreateCustomerInput) (string, error) {
	return "cust-1", nil
}
func (g *attachGateway) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	if g.attachErr != nil {
		return g.attachErr
	}
	g.attached = append(g.attached, methodRef)
	return nil
}
func (g *attachGateway) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	return nil, nil
}
func (g *attachGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	return nil
}
func (g *attachGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	return nil
}

func newTestService(t *testing.T, repo Repository, gw gateway.Gateway) Service {
	t.Helper()
	router, err := gateway.NewRouter(gateway.RouterParams{Adapters: []gateway.Gateway{gw}})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Customers:         stubResolver{},
		Router:            router,
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "methods-test"}),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func TestAttachVaultsTokenAndAttachesAtProvider(t *testing.T) {
	repo := newStubMethodsRepo()
	gw := &attachGateway{provider: enums.ProviderStripe}
	svc := newTestService(t, repo, gw)

	brand := "visa"
	last4 := "4242"
	method, err := svc.Attach(context.Background(), AttachInput{
		UserID:        uuid.New(),
		Provider:      enums.ProviderStripe,
		ProviderToken: "pm_tok_123",
		CardBrand:     &brand,
		CardLast4:     &last4,
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if method.Type != enums.PaymentMethodTypeCard {
		t.Fatalf("expected card default type but got %s", method.Type)
	}
	if len(gw.attached) != 1 || gw.attached[0] != "pm_tok_123" {
		t.Fatalf("expected provider attach with token, got %v", gw.attached)
	}
	if len(repo.methods) != 1 {
		t.Fatalf("expected one vaulted method, got %d", len(repo.methods))
	}
}

func TestAttachDefaultClearsPreviousDefault(t *testing.T) {
	repo := newStubMethodsRepo()
	userID := uuid.New()
	repo.methods[uuid.New()] = &models.PaymentMethod{
		UserID:        userID,
		Provider:      enums.ProviderStripe,
		ProviderToken: "pm_old",
		IsDefault:     true,
	}
	svc := newTestService(t, repo, &attachGateway{provider: enums.ProviderStripe})

	method, err := svc.Attach(context.Background(), AttachInput{
		UserID:        userID,
		Provider:      enums.ProviderStripe,
		ProviderToken: "pm_new",
		IsDefault:     true,
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !method.IsDefault {
		t.Fatalf("expected new method to be default")
	}
	if len(repo.clearedDefault) != 1 {
		t.Fatalf("expected previous default cleared")
	}
}

func TestAttachDuplicateTokenIsConflict(t *testing.T) {
	repo := newStubMethodsRepo()
	svc := newTestService(t, repo, &attachGateway{provider: enums.ProviderStripe})

	input := AttachInput{
		UserID:        uuid.New(),
		Provider:      enums.ProviderStripe,
		ProviderToken: "pm_dup",
	}
	if _, err := svc.Attach(context.Background(), input); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	_, err := svc.Attach(context.Background(), input)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate token, got %v", err)
	}
}

func TestAttachRejectsBlankToken(t *testing.T) {
	svc := newTestService(t, newStubMethodsRepo(), &attachGateway{provider: enums.ProviderStripe})

	_, err := svc.Attach(context.Background(), AttachInput{
		UserID:   uuid.New(),
		Provider: enums.ProviderStripe,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
