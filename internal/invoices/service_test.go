package invoices

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
)

type stubInvoiceRepo struct {
	invoices map[uuid.UUID]*models.Invoice
	lastSeq  map[int]int64
}

func newStubInvoiceRepo() *stubInvoiceRepo {
	return &stubInvoiceRepo{invoices: map[uuid.UUID]*models.Invoice{}, lastSeq: map[int]int64{}}
}

func (r *stubInvoiceRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubInvoiceRepo) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	r.invoices[invoice.ID] = invoice
	return nil
}

func (r *stubInvoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	copied := *invoice
	return &copied, nil
}

func (r *stubInvoiceRepo) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error) {
	for _, invoice := range r.invoices {
		if invoice.PaymentID == paymentID {
			copied := *invoice
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubInvoiceRepo) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	for _, invoice := range r.invoices {
		if invoice.Number == number {
			copied := *invoice
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubInvoiceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Invoice, error) {
	var rows []models.Invoice
	for _, invoice := range r.invoices {
		if invoice.UserID == userID {
			rows = append(rows, *invoice)
		}
	}
	return rows, nil
}

func (r *stubInvoiceRepo) NextNumber(ctx context.Context, year int) (string, error) {
	r.lastSeq[year]++
	return FormatNumber(year, r.lastSeq[year]), nil
}

func (r *stubInvoiceRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	invoice, ok := r.invoices[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if status, ok := updates["status"].(enums.InvoiceStatus); ok {
		invoice.Status = status
	}
	if path, ok := updates["document_path"].(string); ok {
		invoice.DocumentPath = &path
	}
	return nil
}

type stubPayments struct {
	payments map[uuid.UUID]*models.Payment
}

func (p *stubPayments) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return p.payments[id], nil
}

type stubUsers struct {
	users map[uuid.UUID]*models.User
}

func (u *stubUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return u.users[id], nil
}

type stubDocuments struct {
	uploads   map[string][]byte
	failNext  bool
	signedURL string
}

func (d *stubDocuments) UploadInvoice(ctx context.Context, invoiceNumber string, contentType string, body io.Reader) (string, error) {
	if d.failNext {
		return "", fmt.Errorf("bucket unavailable")
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if d.uploads == nil {
		d.uploads = map[string][]byte{}
	}
	path := "invoices/" + invoiceNumber + ".txt"
	d.uploads[path] = raw
	return path, nil
}

func (d *stubDocuments) SignedDownloadURL(object string) (string, error) {
	if d.signedURL == "" {
		return "https://storage.example/" + object, nil
	}
	return d.signedURL, nil
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

type fixture struct {
	repo      *stubInvoiceRepo
	payments  *stubPayments
	users     *stubUsers
	documents *stubDocuments
	emitter   *stubEmitter
	svc       Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newStubInvoiceRepo(),
		payments:  &stubPayments{payments: map[uuid.UUID]*models.Payment{}},
		users:     &stubUsers{users: map[uuid.UUID]*models.User{}},
		documents: &stubDocuments{},
		emitter:   &stubEmitter{},
	}
	svc, err := NewService(ServiceParams{
		Repo:              f.repo,
		Payments:          f.payments,
		Users:             f.users,
		Documents:         f.documents,
		Outbox:            f.emitter,
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "invoices-test"}),
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) seedSettledPayment(t *testing.T) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Provider:          enums.ProviderStripe,
		ProviderPaymentID: "pi_1",
		Amount:            decimal.RequireFromString("19.99"),
		Currency:          "USD",
		Status:            enums.PaymentStatusSucceeded,
		Purpose:           enums.PaymentPurposeSubscription,
	}
	f.payments.payments[payment.ID] = payment
	f.users.users[payment.UserID] = &models.User{
		ID:          payment.UserID,
		Email:       "jo@example.com",
		DisplayName: "Jo Example",
	}
	return payment
}

func TestIssueForPaymentRendersAndStoresReceipt(t *testing.T) {
	f := newFixture(t)
	payment := f.seedSettledPayment(t)

	invoice, err := f.svc.IssueForPayment(context.Background(), payment.ID, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	wantNumber := FormatNumber(time.Now().UTC().Year(), 1)
	if invoice.Number != wantNumber {
		t.Fatalf("expected number %s, got %s", wantNumber, invoice.Number)
	}
	if invoice.Status != enums.InvoiceStatusIssued {
		t.Fatalf("expected issued, got %s", invoice.Status)
	}
	if invoice.DocumentPath == nil {
		t.Fatalf("document path must be recorded")
	}

	document := string(f.documents.uploads[*invoice.DocumentPath])
	for _, want := range []string{wantNumber, "Jo Example", "jo@example.com", "19.99 USD", "Subscription charge", "pi_1"} {
		if !strings.Contains(document, want) {
			t.Fatalf("receipt missing %q:\n%s", want, document)
		}
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].EventType != enums.OutboxEventInvoiceIssued {
		t.Fatalf("expected invoice.issued event")
	}
}

func TestIssueForPaymentIsIdempotentPerPayment(t *testing.T) {
	f := newFixture(t)
	payment := f.seedSettledPayment(t)

	first, err := f.svc.IssueForPayment(context.Background(), payment.ID, nil)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := f.svc.IssueForPayment(context.Background(), payment.ID, nil)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first.Number != second.Number {
		t.Fatalf("second call must return the existing invoice, got %s and %s", first.Number, second.Number)
	}
	if len(f.repo.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(f.repo.invoices))
	}
}

func TestIssueForPaymentRejectsUnsettledPayment(t *testing.T) {
	f := newFixture(t)
	payment := f.seedSettledPayment(t)
	payment.Status = enums.PaymentStatusPending

	_, err := f.svc.IssueForPayment(context.Background(), payment.ID, nil)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestIssueForPaymentUploadFailureLeavesDraft(t *testing.T) {
	f := newFixture(t)
	payment := f.seedSettledPayment(t)
	f.documents.failNext = true

	_, err := f.svc.IssueForPayment(context.Background(), payment.ID, nil)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}

	stored, err := f.repo.FindByPayment(context.Background(), payment.ID)
	if err != nil || stored == nil {
		t.Fatalf("draft invoice must survive the failed upload")
	}
	if stored.Status != enums.InvoiceStatusDraft {
		t.Fatalf("expected draft, got %s", stored.Status)
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("no event before the document is stored")
	}
}

func TestDownloadURLRequiresIssuedDocument(t *testing.T) {
	f := newFixture(t)
	invoice := &models.Invoice{ID: uuid.New(), Status: enums.InvoiceStatusDraft}
	f.repo.invoices[invoice.ID] = invoice

	_, err := f.svc.DownloadURL(context.Background(), invoice.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestFormatNumberPadsSequence(t *testing.T) {
	if got := FormatNumber(2026, 42); got != "INV-2026-000042" {
		t.Fatalf("unexpected number %s", got)
	}
}
