package methods

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/api/validators"
	methodsvc "github.com/vidorahq/vidora-billing/internal/methods"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type attachMethodRequest struct {
	UserID        string            `json:"user_id" validate:"required,uuid"`
	Provider      string            `json:"provider" validate:"required"`
	ProviderToken string            `json:"provider_token" validate:"required"`
	Type          string            `json:"type,omitempty"`
	CardBrand     *string           `json:"card_brand,omitempty"`
	CardLast4     *string           `json:"card_last4,omitempty" validate:"omitempty,len=4"`
	CardExpMonth  *int              `json:"card_exp_month,omitempty" validate:"omitempty,min=1,max=12"`
	CardExpYear   *int              `json:"card_exp_year,omitempty"`
	IsDefault     bool              `json:"is_default"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type methodResponse struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Provider     string    `json:"provider"`
	Type         string    `json:"type"`
	CardBrand    *string   `json:"card_brand,omitempty"`
	CardLast4    *string   `json:"card_last4,omitempty"`
	CardExpMonth *int      `json:"card_exp_month,omitempty"`
	CardExpYear  *int      `json:"card_exp_year,omitempty"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

func newMethodResponse(method *models.PaymentMethod) methodResponse {
	return methodResponse{
		ID:           method.ID,
		UserID:       method.UserID,
		Provider:     string(method.Provider),
		Type:         string(method.Type),
		CardBrand:    method.CardBrand,
		CardLast4:    method.CardLast4,
		CardExpMonth: method.CardExpMonth,
		CardExpYear:  method.CardExpYear,
		IsDefault:    method.IsDefault,
		CreatedAt:    method.CreatedAt,
	}
}

// Attach vaults a provider-tokenized payment instrument.
func Attach(svc methodsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		var payload attachMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, _ := uuid.Parse(payload.UserID)
		provider, err := enums.ParseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider"))
			return
		}

		method, err := svc.Attach(r.Context(), methodsvc.AttachInput{
			UserID:        userID,
			Provider:      provider,
			ProviderToken: payload.ProviderToken,
			Type:          enums.PaymentMethodType(payload.Type),
			CardBrand:     payload.CardBrand,
			CardLast4:     payload.CardLast4,
			CardExpMonth:  payload.CardExpMonth,
			CardExpYear:   payload.CardExpYear,
			IsDefault:     payload.IsDefault,
			Metadata:      payload.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newMethodResponse(method))
	}
}

// List returns the user's vaulted instruments.
func List(svc methodsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid"))
			return
		}

		methods, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]methodResponse, 0, len(methods))
		for i := range methods {
			out = append(out, newMethodResponse(&methods[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
