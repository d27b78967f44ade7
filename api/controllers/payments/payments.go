package payments

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apimw "github.com/vidorahq/vidora-billing/api/middleware"
	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	paysvc "github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/pagination"
)

type createPaymentRequest struct {
	UserID         string            `json:"user_id" validate:"required,uuid"`
	SubscriptionID string            `json:"subscription_id,omitempty" validate:"omitempty,uuid"`
	Provider       string            `json:"provider" validate:"required"`
	Amount         string            `json:"amount" validate:"required"`
	Currency       string            `json:"currency" validate:"required,currency"`
	Purpose        string            `json:"purpose,omitempty"`
	MethodRef      string            `json:"method_ref,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type confirmPaymentRequest struct {
	MethodRef string `json:"method_ref" validate:"required"`
}

type paymentResponse struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	SubscriptionID    *uuid.UUID      `json:"subscription_id,omitempty"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	Purpose           string          `json:"purpose"`
	RefundedAmount    decimal.Decimal `json:"refunded_amount"`
	FailureCode       *string         `json:"failure_code,omitempty"`
	FailureMessage    *string         `json:"failure_message,omitempty"`
	ReceiptURL        *string         `json:"receipt_url,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newPaymentResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:                payment.ID,
		UserID:            payment.UserID,
		SubscriptionID:    payment.SubscriptionID,
		Provider:          string(payment.Provider),
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Status:            string(payment.Status),
		Purpose:           string(payment.Purpose),
		RefundedAmount:    payment.RefundedAmount,
		FailureCode:       payment.FailureCode,
		FailureMessage:    payment.FailureMessage,
		ReceiptURL:        payment.ReceiptURL,
		PaidAt:            payment.PaidAt,
		CreatedAt:         payment.CreatedAt,
	}
}

// Create starts a charge through the requested provider.
func Create(svc paysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid"))
			return
		}
		provider, err := enums.ParseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider"))
			return
		}
		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal string"))
			return
		}

		input := paysvc.CreateIntentInput{
			UserID:      userID,
			Provider:    provider,
			Amount:      amount,
			Currency:    payload.Currency,
			MethodRef:   payload.MethodRef,
			Description: payload.Description,
			Metadata:    payload.Metadata,
		}
		if payload.SubscriptionID != "" {
			subID, err := uuid.Parse(payload.SubscriptionID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subscription_id must be a uuid"))
				return
			}
			input.SubscriptionID = &subID
		}
		if payload.Purpose != "" {
			purpose := enums.PaymentPurpose(payload.Purpose)
			if !purpose.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment purpose"))
				return
			}
			input.Purpose = purpose
		}

		payment, err := svc.CreateIntent(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(payment))
	}
}

// Confirm finalizes a pending charge with a payment method reference.
func Confirm(svc paysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id must be a uuid"))
			return
		}

		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Confirm(r.Context(), paymentID, payload.MethodRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// Get returns a single payment, syncing pending rows against the provider
// first so the admin UI sees live status.
func Get(svc paysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id must be a uuid"))
			return
		}

		payment, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// List pages a user's payments, newest first.
func List(svc paysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		rawUser := r.URL.Query().Get("user_id")
		if rawUser == "" {
			rawUser = apimw.UserIDFromContext(r.Context())
		}
		userID, err := uuid.Parse(rawUser)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid"))
			return
		}

		page, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := svc.ListByUser(r.Context(), userID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]paymentResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newPaymentResponse(&rows[i]))
		}
		body := map[string]any{"payments": out}
		if next != nil {
			body["next_cursor"] = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, body)
	}
}
