package invoices

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	invsvc "github.com/vidorahq/vidora-billing/internal/invoices"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type issueInvoiceRequest struct {
	Lines []invoiceLineRequest `json:"lines,omitempty" validate:"omitempty,dive"`
}

type invoiceLineRequest struct {
	Description string `json:"description" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,min=1"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

type invoiceResponse struct {
	ID           uuid.UUID            `json:"id"`
	PaymentID    uuid.UUID            `json:"payment_id"`
	UserID       uuid.UUID            `json:"user_id"`
	Number       string               `json:"number"`
	Lines        []models.InvoiceLine `json:"lines"`
	Subtotal     decimal.Decimal      `json:"subtotal"`
	Total        decimal.Decimal      `json:"total"`
	Currency     string               `json:"currency"`
	Status       string               `json:"status"`
	DocumentPath *string              `json:"document_path,omitempty"`
	IssuedAt     *time.Time           `json:"issued_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

func newInvoiceResponse(invoice *models.Invoice) invoiceResponse {
	var lines []models.InvoiceLine
	if len(invoice.Lines) > 0 {
		_ = json.Unmarshal(invoice.Lines, &lines)
	}
	return invoiceResponse{
		ID:           invoice.ID,
		PaymentID:    invoice.PaymentID,
		UserID:       invoice.UserID,
		Number:       invoice.Number,
		Lines:        lines,
		Subtotal:     invoice.Subtotal,
		Total:        invoice.Total,
		Currency:     invoice.Currency,
		Status:       string(invoice.Status),
		DocumentPath: invoice.DocumentPath,
		IssuedAt:     invoice.IssuedAt,
		CreatedAt:    invoice.CreatedAt,
	}
}

// Issue builds and stores the invoice for a succeeded payment. Calling it
// again returns the existing invoice.
func Issue(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id must be a uuid"))
			return
		}

		var payload issueInvoiceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]models.InvoiceLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			unitPrice, err := decimal.NewFromString(line.UnitPrice)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unit_price must be a decimal string"))
				return
			}
			lines = append(lines, models.InvoiceLine{
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   unitPrice,
				Total:       unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
			})
		}

		invoice, err := svc.IssueForPayment(r.Context(), paymentID, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newInvoiceResponse(invoice))
	}
}

// Get returns a single invoice.
func Get(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invoice id must be a uuid"))
			return
		}

		invoice, err := svc.Get(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInvoiceResponse(invoice))
	}
}

// Download returns a short-lived signed URL for the stored receipt document.
func Download(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invoice id must be a uuid"))
			return
		}

		url, err := svc.DownloadURL(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}
