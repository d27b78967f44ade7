package subscriptions

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	subsvc "github.com/vidorahq/vidora-billing/internal/subscriptions"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type createSubscriptionRequest struct {
	UserID          string            `json:"user_id" validate:"required,uuid"`
	PlanID          string            `json:"plan_id" validate:"required,uuid"`
	Provider        string            `json:"provider" validate:"required"`
	Currency        string            `json:"currency" validate:"required,currency"`
	PaymentMethodID string            `json:"payment_method_id,omitempty" validate:"omitempty,uuid"`
	CouponCode      string            `json:"coupon_code,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type cancelSubscriptionRequest struct {
	Immediately bool `json:"immediately"`
}

type renewSubscriptionRequest struct {
	Manual bool `json:"manual"`
}

type updateSubscriptionRequest struct {
	AutoRenew       *bool   `json:"auto_renew,omitempty"`
	PaymentMethodID *string `json:"payment_method_id,omitempty" validate:"omitempty,uuid"`
}

type subscriptionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	PlanID                 uuid.UUID  `json:"plan_id"`
	Provider               string     `json:"provider"`
	ProviderSubscriptionID *string    `json:"provider_subscription_id,omitempty"`
	Status                 string     `json:"status"`
	CurrentPeriodStart     time.Time  `json:"current_period_start"`
	CurrentPeriodEnd       time.Time  `json:"current_period_end"`
	AutoRenew              bool       `json:"auto_renew"`
	PaymentMethodID        *uuid.UUID `json:"payment_method_id,omitempty"`
	TrialEnd               *time.Time `json:"trial_end,omitempty"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                     sub.ID,
		UserID:                 sub.UserID,
		PlanID:                 sub.PlanID,
		Provider:               string(sub.Provider),
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Status:                 string(sub.Status),
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		AutoRenew:              sub.AutoRenew,
		PaymentMethodID:        sub.PaymentMethodID,
		TrialEnd:               sub.TrialEnd,
		CanceledAt:             sub.CanceledAt,
		CreatedAt:              sub.CreatedAt,
	}
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id must be a uuid")
	}
	return id, nil
}

// Create opens a subscription on the chosen plan and provider.
func Create(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var payload createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, _ := uuid.Parse(payload.UserID)
		planID, _ := uuid.Parse(payload.PlanID)
		provider, err := enums.ParseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider"))
			return
		}

		input := subsvc.CreateSubscriptionInput{
			UserID:     userID,
			PlanID:     planID,
			Provider:   provider,
			Currency:   payload.Currency,
			CouponCode: payload.CouponCode,
			Metadata:   payload.Metadata,
		}
		if payload.PaymentMethodID != "" {
			methodID, _ := uuid.Parse(payload.PaymentMethodID)
			input.PaymentMethodID = &methodID
		}

		sub, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newSubscriptionResponse(sub))
	}
}

// Current returns the user's entitled subscription, if any.
func Current(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid"))
			return
		}

		sub, err := svc.GetCurrent(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// Cancel stops a subscription, at period end by default.
func Cancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), id, payload.Immediately)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// Renew re-attempts billing for the subscription's next period.
func Renew(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload renewSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Renew(r.Context(), id, payload.Manual)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// Update mutates auto_renew and the charging method, nothing else.
func Update(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := subsvc.UpdateSubscriptionInput{AutoRenew: payload.AutoRenew}
		if payload.PaymentMethodID != nil {
			methodID, err := uuid.Parse(*payload.PaymentMethodID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_method_id must be a uuid"))
				return
			}
			input.PaymentMethodID = &methodID
		}

		sub, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}
