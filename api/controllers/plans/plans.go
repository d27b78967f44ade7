package plans

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	"github.com/vidorahq/vidora-billing/internal/catalog"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type createPlanRequest struct {
	Code             string            `json:"code" validate:"required"`
	Name             string            `json:"name" validate:"required"`
	Period           string            `json:"period" validate:"required"`
	Prices           map[string]string `json:"prices" validate:"required,min=1"`
	TrialDays        int               `json:"trial_days" validate:"min=0"`
	Features         []string          `json:"features,omitempty"`
	ProviderPriceRef string            `json:"provider_price_ref,omitempty"`
}

type setPlanStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type planResponse struct {
	ID               uuid.UUID                  `json:"id"`
	Code             string                     `json:"code"`
	Name             string                     `json:"name"`
	Status           string                     `json:"status"`
	Period           string                     `json:"period"`
	Prices           map[string]decimal.Decimal `json:"prices"`
	TrialDays        int                        `json:"trial_days"`
	Features         []string                   `json:"features"`
	ProviderPriceRef string                     `json:"provider_price_ref,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
}

func newPlanResponse(plan *models.SubscriptionPlan) planResponse {
	return planResponse{
		ID:               plan.ID,
		Code:             plan.Code,
		Name:             plan.Name,
		Status:           string(plan.Status),
		Period:           string(plan.Period),
		Prices:           plan.Prices,
		TrialDays:        plan.TrialDays,
		Features:         plan.Features,
		ProviderPriceRef: plan.ProviderPriceRef,
		CreatedAt:        plan.CreatedAt,
	}
}

// List returns the catalog, active plans first.
func List(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		plans, err := svc.ListPlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]planResponse, 0, len(plans))
		for i := range plans {
			out = append(out, newPlanResponse(&plans[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Create adds a catalog entry. Admin only.
func Create(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var payload createPlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		period, err := enums.ParseBillingPeriod(payload.Period)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown billing period"))
			return
		}

		prices := make(map[string]decimal.Decimal, len(payload.Prices))
		for currency, raw := range payload.Prices {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "prices must be decimal strings").
					WithDetails(map[string]any{"currency": currency}))
				return
			}
			prices[currency] = price
		}

		plan, err := svc.CreatePlan(r.Context(), catalog.CreatePlanInput{
			Code:             payload.Code,
			Name:             payload.Name,
			Period:           period,
			Prices:           prices,
			TrialDays:        payload.TrialDays,
			Features:         payload.Features,
			ProviderPriceRef: payload.ProviderPriceRef,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlanResponse(plan))
	}
}

// SetStatus toggles a plan in or out of sale. Admin only.
func SetStatus(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		planID, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id must be a uuid"))
			return
		}

		var payload setPlanStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParsePlanStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown plan status"))
			return
		}

		if err := svc.SetPlanStatus(r.Context(), planID, status); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(status)})
	}
}
