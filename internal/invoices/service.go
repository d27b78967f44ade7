package invoices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type documentStore interface {
	UploadInvoice(ctx context.Context, invoiceNumber string, contentType string, body io.Reader) (string, error)
	SignedDownloadURL(object string) (string, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service generates billing documents from succeeded payments.
type Service interface {
	// IssueForPayment builds the invoice, renders the receipt document,
	// stores it, and marks the invoice issued. Idempotent per payment: a
	// second call returns the existing invoice.
	IssueForPayment(ctx context.Context, paymentID uuid.UUID, lines []models.InvoiceLine) (*models.Invoice, error)
	Get(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Invoice, error)
	// DownloadURL returns a short-lived signed URL for the stored document.
	DownloadURL(ctx context.Context, invoiceID uuid.UUID) (string, error)
}

// ServiceParams groups dependencies for the invoice service.
type ServiceParams struct {
	Repo              Repository
	Payments          paymentFinder
	Users             userFinder
	Documents         documentStore
	Outbox            eventEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo      Repository
	payments  paymentFinder
	users     userFinder
	documents documentStore
	outbox    eventEmitter
	txRunner  txRunner
	logg      *logger.Logger
}

// NewService builds an invoice service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoices repo required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment finder required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	if params.Documents == nil {
		return nil, fmt.Errorf("document store required")
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
		payments:  params.Payments,
		users:     params.Users,
		documents: params.Documents,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

func (s *service) IssueForPayment(ctx context.Context, paymentID uuid.UUID, lines []models.InvoiceLine) (*models.Invoice, error) {
	existing, err := s.repo.FindByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking existing invoice")
	}
	if existing != nil {
		return existing, nil
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.Status != enums.PaymentStatusSucceeded &&
		payment.Status != enums.PaymentStatusPartiallyRefunded &&
		payment.Status != enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only settled payments can be invoiced").
			WithDetails(map[string]string{"status": payment.Status.String()})
	}

	user, err := s.users.FindByID(ctx, payment.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	if len(lines) == 0 {
		lines = []models.InvoiceLine{{
			Description: describePayment(payment),
			Quantity:    1,
			UnitPrice:   payment.Amount,
			Total:       payment.Amount,
		}}
	}
	rawLines, err := json.Marshal(lines)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding invoice lines")
	}

	now := time.Now().UTC()
	invoice := &models.Invoice{
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Lines:     rawLines,
		Subtotal:  payment.Amount,
		Total:     payment.Amount,
		Currency:  payment.Currency,
		Status:    enums.InvoiceStatusDraft,
	}

	// Number allocation and the insert share one transaction so an aborted
	// insert cannot burn a sequence value.
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		number, err := repo.NextNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		invoice.Number = number
		return repo.Create(ctx, invoice)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving invoice")
	}

	document, err := renderReceipt(invoice, lines, user, payment.ProviderPaymentID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rendering receipt")
	}
	objectPath, err := s.documents.UploadInvoice(ctx, invoice.Number, receiptContentType, bytes.NewReader(document))
	if err != nil {
		// The draft row stands; a retry re-renders and issues it.
		s.logg.Error(ctx, "receipt upload failed, invoice left in draft", err)
		return invoice, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing receipt document")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateFields(ctx, invoice.ID, map[string]any{
			"status":        enums.InvoiceStatusIssued,
			"document_path": objectPath,
			"issued_at":     now,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventInvoiceIssued,
			AggregateType: enums.OutboxAggregateInvoice,
			AggregateID:   invoice.ID,
			Data: map[string]any{
				"invoiceId": invoice.ID.String(),
				"number":    invoice.Number,
				"paymentId": payment.ID.String(),
				"userId":    payment.UserID.String(),
				"total":     invoice.Total.String(),
				"currency":  invoice.Currency,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issuing invoice")
	}

	invoice.Status = enums.InvoiceStatusIssued
	invoice.DocumentPath = &objectPath
	invoice.IssuedAt = &now

	s.logg.Info(s.logg.WithPaymentID(ctx, payment.ID.String()), fmt.Sprintf("invoice %s issued", invoice.Number))
	return invoice, nil
}

func (s *service) Get(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Invoice, error) {
	invoices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing invoices")
	}
	return invoices, nil
}

func (s *service) DownloadURL(ctx context.Context, invoiceID uuid.UUID) (string, error) {
	invoice, err := s.Get(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if invoice.DocumentPath == nil {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "invoice document has not been issued yet")
	}
	url, err := s.documents.SignedDownloadURL(*invoice.DocumentPath)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "signing download url")
	}
	return url, nil
}

func describePayment(payment *models.Payment) string {
	switch payment.Purpose {
	case enums.PaymentPurposeSubscription:
		return "Subscription charge"
	case enums.PaymentPurposeRenewal:
		return "Subscription renewal"
	case enums.PaymentPurposeUpgrade:
		return "Plan upgrade"
	default:
		return "One-time charge"
	}
}
