package controllers

import (
	"net/http"

	"github.com/vidorahq/vidora-billing/api/responses"
	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type providerStatus struct {
	Provider            string `json:"provider"`
	Env                 string `json:"env"`
	InRotation          bool   `json:"in_rotation"`
	APIKeyMasked        string `json:"api_key_masked,omitempty"`
	WebhookSecretMasked string `json:"webhook_secret_masked,omitempty"`
}

// GatewayProviders lists every known provider with its rotation state and
// masked credentials. Secrets never leave this process unmasked.
func GatewayProviders(cfg *config.Config, router *gateway.Router, logg *logger.Logger) http.HandlerFunc {
	credentials := map[enums.Provider]config.ProviderCredentials{
		enums.ProviderStripe: cfg.Stripe.Credentials(),
		enums.ProviderPayPal: cfg.PayPal.Credentials(),
		enums.ProviderAlipay: cfg.Alipay.Credentials(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		inRotation := map[enums.Provider]bool{}
		if router != nil {
			for _, provider := range router.Providers() {
				inRotation[provider] = true
			}
		}

		out := make([]providerStatus, 0, len(credentials))
		for _, provider := range []enums.Provider{enums.ProviderStripe, enums.ProviderPayPal, enums.ProviderAlipay} {
			creds := credentials[provider]
			out = append(out, providerStatus{
				Provider:            string(provider),
				Env:                 creds.Env,
				InRotation:          inRotation[provider],
				APIKeyMasked:        config.MaskSecret(creds.APIKey),
				WebhookSecretMasked: config.MaskSecret(creds.WebhookSecret),
			})
		}
		responses.WriteSuccess(w, out)
	}
}
