package refunds

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apimw "github.com/vidorahq/vidora-billing/api/middleware"
	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	refsvc "github.com/vidorahq/vidora-billing/internal/refunds"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type createRefundRequest struct {
	PaymentID    string `json:"payment_id" validate:"required,uuid"`
	Amount       string `json:"amount,omitempty"`
	Reason       string `json:"reason" validate:"required"`
	ReasonDetail string `json:"reason_detail,omitempty"`
	InternalNote string `json:"internal_note,omitempty"`
}

type approvalRequest struct {
	Note string `json:"note,omitempty"`
}

type refundResponse struct {
	ID               uuid.UUID       `json:"id"`
	PaymentID        uuid.UUID       `json:"payment_id"`
	RequestedBy      uuid.UUID       `json:"requested_by"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason"`
	ReasonDetail     *string         `json:"reason_detail,omitempty"`
	Status           string          `json:"status"`
	FirstApproverID  *uuid.UUID      `json:"first_approver_id,omitempty"`
	FirstApprovedAt  *time.Time      `json:"first_approved_at,omitempty"`
	SecondApproverID *uuid.UUID      `json:"second_approver_id,omitempty"`
	SecondApprovedAt *time.Time      `json:"second_approved_at,omitempty"`
	RejectedBy       *uuid.UUID      `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	ProviderRefundID *string         `json:"provider_refund_id,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newRefundResponse(request *models.RefundRequest) refundResponse {
	return refundResponse{
		ID:               request.ID,
		PaymentID:        request.PaymentID,
		RequestedBy:      request.RequestedBy,
		Amount:           request.Amount,
		Currency:         request.Currency,
		Reason:           string(request.Reason),
		ReasonDetail:     request.ReasonDetail,
		Status:           string(request.Status),
		FirstApproverID:  request.FirstApproverID,
		FirstApprovedAt:  request.FirstApprovedAt,
		SecondApproverID: request.SecondApproverID,
		SecondApprovedAt: request.SecondApprovedAt,
		RejectedBy:       request.RejectedBy,
		RejectedAt:       request.RejectedAt,
		ProviderRefundID: request.ProviderRefundID,
		CompletedAt:      request.CompletedAt,
		FailureReason:    request.FailureReason,
		CreatedAt:        request.CreatedAt,
	}
}

func requestIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id must be a uuid")
	}
	return id, nil
}

func actorID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(apimw.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "acting staff member unknown")
	}
	return id, nil
}

// Create opens a refund request against a payment. The requester is taken
// from the authenticated staff context.
func Create(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		staffID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, _ := uuid.Parse(payload.PaymentID)
		reason, err := enums.ParseRefundReason(payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown refund reason"))
			return
		}

		input := refsvc.CreateRefundInput{
			PaymentID:    paymentID,
			RequestedBy:  staffID,
			Reason:       reason,
			ReasonDetail: payload.ReasonDetail,
			InternalNote: payload.InternalNote,
		}
		if payload.Amount != "" {
			amount, err := decimal.NewFromString(payload.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal string"))
				return
			}
			input.Amount = &amount
		}

		request, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundResponse(request))
	}
}

// FirstApprove records the first countersignature.
func FirstApprove(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return approval(svc, logg, func(r *http.Request, svc refsvc.Service, id, staffID uuid.UUID, note string) (*models.RefundRequest, error) {
		return svc.FirstApprove(r.Context(), id, staffID, note)
	})
}

// SecondApprove records the second countersignature and immediately executes
// the gateway refund for the now fully approved request.
func SecondApprove(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return approval(svc, logg, func(r *http.Request, svc refsvc.Service, id, staffID uuid.UUID, note string) (*models.RefundRequest, error) {
		request, err := svc.SecondApprove(r.Context(), id, staffID, note)
		if err != nil {
			return nil, err
		}
		return svc.Execute(r.Context(), request.ID)
	})
}

// Reject closes the request without refunding.
func Reject(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return approval(svc, logg, func(r *http.Request, svc refsvc.Service, id, staffID uuid.UUID, note string) (*models.RefundRequest, error) {
		return svc.Reject(r.Context(), id, staffID, note)
	})
}

func approval(svc refsvc.Service, logg *logger.Logger, act func(*http.Request, refsvc.Service, uuid.UUID, uuid.UUID, string) (*models.RefundRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		id, err := requestIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		staffID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload approvalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := act(r, svc, id, staffID, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRefundResponse(request))
	}
}

// Get returns a single request.
func Get(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		id, err := requestIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRefundResponse(request))
	}
}

// List filters requests by status or payment.
func List(svc refsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var requests []models.RefundRequest
		if rawPayment := r.URL.Query().Get("payment_id"); rawPayment != "" {
			paymentID, err := uuid.Parse(rawPayment)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_id must be a uuid"))
				return
			}
			requests, err = svc.ListByPayment(r.Context(), paymentID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		} else {
			status, err := enums.ParseRefundStatus(r.URL.Query().Get("status"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "status filter required"))
				return
			}
			requests, err = svc.ListByStatus(r.Context(), status, limit)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		out := make([]refundResponse, 0, len(requests))
		for i := range requests {
			out = append(out, newRefundResponse(&requests[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
