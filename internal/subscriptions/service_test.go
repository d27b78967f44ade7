package subscriptions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	dbtypes "github.com/vidorahq/vidora-billing/pkg/db/types"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	"github.com/vidorahq/vidora-billing/pkg/redis"
)

type stubSubsRepo struct {
	subscriptions map[uuid.UUID]*models.Subscription
	liveByUser    map[uuid.UUID]*models.Subscription
	entitled      []SubscriptionWithPlan
	canceledCount int64
	activeAtStart int64
	updates       []map[string]any
	transitions   []enums.SubscriptionStatus
}

func newStubSubsRepo() *stubSubsRepo {
	return &stubSubsRepo{
		subscriptions: map[uuid.UUID]*models.Subscription{},
		liveByUser:    map[uuid.UUID]*models.Subscription{},
	}
}

func (r *stubSubsRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubSubsRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	r.subscriptions[subscription.ID] = subscription
	return nil
}

func (r *stubSubsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	subscription, ok := r.subscriptions[id]
	if !ok {
		return nil, nil
	}
	copied := *subscription
	return &copied, nil
}

func (r *stubSubsRepo) FindByProviderSubscriptionID(ctx context.Context, provider enums.Provider, providerSubscriptionID string) (*models.Subscription, error) {
	for _, subscription := range r.subscriptions {
		if subscription.Provider == provider && subscription.ProviderSubscriptionID != nil && *subscription.ProviderSubscriptionID == providerSubscriptionID {
			copied := *subscription
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubSubsRepo) FindLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return r.liveByUser[userID], nil
}

func (r *stubSubsRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var rows []models.Subscription
	for _, subscription := range r.subscriptions {
		if subscription.UserID == userID {
			rows = append(rows, *subscription)
		}
	}
	return rows, nil
}

func (r *stubSubsRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, to enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	subscription, ok := r.subscriptions[id]
	if !ok || subscription.Status != from {
		return false, nil
	}
	subscription.Status = to
	r.transitions = append(r.transitions, to)
	return true, nil
}

func (r *stubSubsRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	r.updates = append(r.updates, updates)
	subscription, ok := r.subscriptions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if autoRenew, ok := updates["auto_renew"].(bool); ok {
		subscription.AutoRenew = autoRenew
	}
	return nil
}

func (r *stubSubsRepo) ListDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	return nil, nil
}

func (r *stubSubsRepo) ListPastDue(ctx context.Context, limit int) ([]models.Subscription, error) {
	return nil, nil
}

func (r *stubSubsRepo) ListEntitledWithPlans(ctx context.Context) ([]SubscriptionWithPlan, error) {
	return r.entitled, nil
}

func (r *stubSubsRepo) CountCanceledBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return r.canceledCount, nil
}

func (r *stubSubsRepo) CountActiveAt(ctx context.Context, at time.Time) (int64, error) {
	return r.activeAtStart, nil
}

type stubCatalog struct {
	plans   map[uuid.UUID]*models.SubscriptionPlan
	coupons map[string]*models.Coupon
}

func (c *stubCatalog) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, ok := c.plans[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (c *stubCatalog) ResolveCoupon(ctx context.Context, code string, currency string, now time.Time) (*models.Coupon, error) {
	coupon, ok := c.coupons[code]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	return coupon, nil
}

type stubRedeemer struct {
	redeemed []uuid.UUID
}

func (r *stubRedeemer) RedeemCoupon(ctx context.Context, id uuid.UUID) (bool, error) {
	r.redeemed = append(r.redeemed, id)
	return true, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, userID uuid.UUID, provider enums.Provider) (string, error) {
	return "cust-1", nil
}

type stubMethods struct {
	methods map[uuid.UUID]*models.PaymentMethod
}

func (m *stubMethods) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	return m.methods[id], nil
}

type stubCharger struct {
	inputs []payments.CreateIntentInput
	result *models.Payment
}

func (c *stubCharger) CreateIntent(ctx context.Context, input payments.CreateIntentInput) (*models.Payment, error) {
	c.inputs = append(c.inputs, input)
	return c.result, nil
}

type stubEmitter struct {
	events []outbox.DomainEvent
}

func (e *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	e.events = append(e.events, event)
	return nil
}

type stubGateway struct {
	provider     enums.Provider
	subResult    *gateway.SubscriptionResult
	cancelCalls  []bool
	canceledSubs []string
}

func (g *stubGateway) Provider() enums.Provider { return g.provider }

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	return &gateway.PaymentResult{}, nil
}

func (g *stubGateway) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*gateway.PaymentResult, error) {
	return &gateway.PaymentResult{}, nil
}

func (g *stubGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	return &gateway.PaymentResult{}, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{}, nil
}

func (g *stubGateway) CreateCustomer(ctx context.Context, input gateway.CreateCustomerInput) (string, error) {
	return "cust-1", nil
}

func (g *stubGateway) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	return nil
}

func (g *stubGateway) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	return g.subResult, nil
}

func (g *stubGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	g.cancelCalls = append(g.cancelCalls, immediately)
	g.canceledSubs = append(g.canceledSubs, providerSubscriptionID)
	return nil
}

func (g *stubGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	return nil
}

type stubLock struct {
	held     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(ctx context.Context) error {
	if l.held {
		return redis.ErrLockHeld
	}
	l.acquired++
	return nil
}

func (l *stubLock) Release(ctx context.Context) error {
	l.released++
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixture struct {
	repo     *stubSubsRepo
	catalog  *stubCatalog
	redeemer *stubRedeemer
	methods  *stubMethods
	charger  *stubCharger
	emitter  *stubEmitter
	gateway  *stubGateway
	lock     *stubLock
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newStubSubsRepo(),
		catalog:  &stubCatalog{plans: map[uuid.UUID]*models.SubscriptionPlan{}, coupons: map[string]*models.Coupon{}},
		redeemer: &stubRedeemer{},
		methods:  &stubMethods{methods: map[uuid.UUID]*models.PaymentMethod{}},
		charger:  &stubCharger{},
		emitter:  &stubEmitter{},
		gateway:  &stubGateway{provider: enums.ProviderStripe},
		lock:     &stubLock{},
	}
	router, err := gateway.NewRouter(gateway.RouterParams{Adapters: []gateway.Gateway{f.gateway}})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:              f.repo,
		Catalog:           f.catalog,
		Coupons:           f.redeemer,
		Customers:         stubResolver{},
		Methods:           f.methods,
		Router:            router,
		Charger:           f.charger,
		Outbox:            f.emitter,
		Locks:             func(uuid.UUID) AdvisoryLock { return f.lock },
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "subscriptions-test"}),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	f.svc = svc
	return f
}

func monthlyPlan(price string) *models.SubscriptionPlan {
	return &models.SubscriptionPlan{
		ID:     uuid.New(),
		Code:   "basic-monthly",
		Name:   "Basic Monthly",
		Status: enums.PlanStatusActive,
		Period: enums.BillingPeriodMonthly,
		Prices: dbtypes.PriceTable{"USD": decimal.RequireFromString(price)},
	}
}

func TestCreateRejectsSecondLiveSubscription(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	f.catalog.plans[plan.ID] = plan

	userID := uuid.New()
	f.repo.liveByUser[userID] = &models.Subscription{ID: uuid.New(), UserID: userID, Status: enums.SubscriptionStatusActive}

	_, err := f.svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:   userID,
		PlanID:   plan.ID,
		Provider: enums.ProviderStripe,
		Currency: "USD",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePersistsProviderPeriodAndCurrency(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	f.catalog.plans[plan.ID] = plan

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	f.gateway.subResult = &gateway.SubscriptionResult{
		SubscriptionID:     "sub_1",
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}

	subscription, err := f.svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:   uuid.New(),
		PlanID:   plan.ID,
		Provider: enums.ProviderStripe,
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if subscription.ProviderSubscriptionID == nil || *subscription.ProviderSubscriptionID != "sub_1" {
		t.Fatalf("provider subscription id not recorded")
	}
	if !subscription.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("period end not mirrored from provider")
	}
	if decodeMeta(subscription.Metadata).Currency != "USD" {
		t.Fatalf("billing currency not recorded")
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.OutboxEventSubscriptionCreated {
		t.Fatalf("expected subscription.created event, got %+v", f.emitter.events)
	}
}

func TestCreateRejectsInactivePlan(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	plan.Status = enums.PlanStatusInactive
	f.catalog.plans[plan.ID] = plan

	_, err := f.svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:   uuid.New(),
		PlanID:   plan.ID,
		Provider: enums.ProviderStripe,
		Currency: "USD",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelAtPeriodEndKeepsStatusActive(t *testing.T) {
	f := newFixture(t)
	providerID := "sub_1"
	subscription := &models.Subscription{
		ID:                     uuid.New(),
		UserID:                 uuid.New(),
		Provider:               enums.ProviderStripe,
		ProviderSubscriptionID: &providerID,
		Status:                 enums.SubscriptionStatusActive,
		AutoRenew:              true,
	}
	f.repo.subscriptions[subscription.ID] = subscription

	updated, err := f.svc.Cancel(context.Background(), subscription.ID, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status must stay active until the sweep, got %s", updated.Status)
	}
	if updated.AutoRenew {
		t.Fatalf("auto_renew must be off")
	}
	if len(f.gateway.cancelCalls) != 1 || f.gateway.cancelCalls[0] {
		t.Fatalf("gateway must be told to cancel at period end, got %v", f.gateway.cancelCalls)
	}
}

func TestCancelImmediatelyCallsGatewayExactlyOnce(t *testing.T) {
	f := newFixture(t)
	providerID := "sub_1"
	subscription := &models.Subscription{
		ID:                     uuid.New(),
		UserID:                 uuid.New(),
		Provider:               enums.ProviderStripe,
		ProviderSubscriptionID: &providerID,
		Status:                 enums.SubscriptionStatusActive,
		AutoRenew:              true,
	}
	f.repo.subscriptions[subscription.ID] = subscription

	updated, err := f.svc.Cancel(context.Background(), subscription.ID, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", updated.Status)
	}
	if updated.CanceledAt == nil {
		t.Fatalf("canceled_at must be set")
	}
	if len(f.gateway.cancelCalls) != 1 || !f.gateway.cancelCalls[0] {
		t.Fatalf("gateway immediate cancel must run exactly once, got %v", f.gateway.cancelCalls)
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.OutboxEventSubscriptionCanceled {
		t.Fatalf("expected subscription.canceled event")
	}
}

func TestCancelWithoutProviderRecordIsLocalOnly(t *testing.T) {
	f := newFixture(t)
	subscription := &models.Subscription{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Provider: enums.ProviderStripe,
		Status:   enums.SubscriptionStatusActive,
	}
	f.repo.subscriptions[subscription.ID] = subscription

	updated, err := f.svc.Cancel(context.Background(), subscription.ID, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", updated.Status)
	}
	if len(f.gateway.cancelCalls) != 0 {
		t.Fatalf("gateway must not be called for local-only rows")
	}
}

func TestCancelContendedLockIsStateConflict(t *testing.T) {
	f := newFixture(t)
	f.lock.held = true
	subscription := &models.Subscription{
		ID:     uuid.New(),
		Status: enums.SubscriptionStatusActive,
	}
	f.repo.subscriptions[subscription.ID] = subscription

	_, err := f.svc.Cancel(context.Background(), subscription.ID, true)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestManualRenewSkipsGatewayAndAdvancesWindow(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	f.catalog.plans[plan.ID] = plan

	subscription := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             plan.ID,
		Provider:           enums.ProviderStripe,
		Status:             enums.SubscriptionStatusPastDue,
		CurrentPeriodStart: time.Now().UTC().AddDate(0, -1, 0),
		CurrentPeriodEnd:   time.Now().UTC().AddDate(0, 0, -3),
	}
	f.repo.subscriptions[subscription.ID] = subscription

	updated, err := f.svc.Renew(context.Background(), subscription.ID, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if !updated.CurrentPeriodEnd.After(time.Now().UTC()) {
		t.Fatalf("period window must advance past now")
	}
	if len(f.charger.inputs) != 0 {
		t.Fatalf("manual renewal must not touch the gateway")
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.OutboxEventSubscriptionRenewed {
		t.Fatalf("expected subscription.renewed event")
	}
}

func TestRenewChargesThroughGateway(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	f.catalog.plans[plan.ID] = plan

	meta, _ := json.Marshal(subscriptionMeta{Currency: "USD"})
	subscription := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             plan.ID,
		Provider:           enums.ProviderStripe,
		Status:             enums.SubscriptionStatusPastDue,
		CurrentPeriodStart: time.Now().UTC().AddDate(0, -1, 0),
		CurrentPeriodEnd:   time.Now().UTC().AddDate(0, 0, -3),
		Metadata:           meta,
	}
	f.repo.subscriptions[subscription.ID] = subscription
	f.charger.result = &models.Payment{ID: uuid.New(), Status: enums.PaymentStatusSucceeded}

	updated, err := f.svc.Renew(context.Background(), subscription.ID, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if len(f.charger.inputs) != 1 {
		t.Fatalf("exactly one renewal charge expected, got %d", len(f.charger.inputs))
	}
	charge := f.charger.inputs[0]
	if charge.Purpose != enums.PaymentPurposeRenewal {
		t.Fatalf("charge purpose must be renewal, got %s", charge.Purpose)
	}
	if !charge.Amount.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("charge amount must match plan price, got %s", charge.Amount)
	}
}

func TestRenewDeclinedChargeLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	plan := monthlyPlan("10.00")
	f.catalog.plans[plan.ID] = plan

	meta, _ := json.Marshal(subscriptionMeta{Currency: "USD"})
	subscription := &models.Subscription{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		PlanID:           plan.ID,
		Provider:         enums.ProviderStripe,
		Status:           enums.SubscriptionStatusPastDue,
		CurrentPeriodEnd: time.Now().UTC().AddDate(0, 0, -3),
		Metadata:         meta,
	}
	f.repo.subscriptions[subscription.ID] = subscription
	f.charger.result = &models.Payment{ID: uuid.New(), Status: enums.PaymentStatusFailed}

	_, err := f.svc.Renew(context.Background(), subscription.ID, false)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDeclined {
		t.Fatalf("expected declined error, got %v", err)
	}
	if len(f.repo.transitions) != 0 {
		t.Fatalf("declined renewal must not transition the row")
	}
}

func TestUpdateOnlyTouchesAutoRenewAndMethod(t *testing.T) {
	f := newFixture(t)
	subscription := &models.Subscription{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Provider: enums.ProviderStripe,
		Status:   enums.SubscriptionStatusActive,
	}
	f.repo.subscriptions[subscription.ID] = subscription

	method := &models.PaymentMethod{
		ID:       uuid.New(),
		UserID:   subscription.UserID,
		Provider: enums.ProviderStripe,
	}
	f.methods.methods[method.ID] = method

	off := false
	updated, err := f.svc.Update(context.Background(), subscription.ID, UpdateSubscriptionInput{
		AutoRenew:       &off,
		PaymentMethodID: &method.ID,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updated.AutoRenew {
		t.Fatalf("auto_renew must be off")
	}
	if len(f.repo.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(f.repo.updates))
	}
	for column := range f.repo.updates[0] {
		if column != "auto_renew" && column != "payment_method_id" {
			t.Fatalf("unexpected column %s in update", column)
		}
	}
}
