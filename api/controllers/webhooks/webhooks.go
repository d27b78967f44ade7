package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vidorahq/vidora-billing/api/responses"
	whsvc "github.com/vidorahq/vidora-billing/internal/webhooks"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

const maxWebhookBody = 1 << 20 // providers send small JSON envelopes

// Stripe receives Stripe event deliveries. The signature rides in the
// Stripe-Signature header.
func Stripe(processor whsvc.Processor, logg *logger.Logger) http.HandlerFunc {
	return handle(processor, logg, enums.ProviderStripe, func(r *http.Request) string {
		return r.Header.Get("Stripe-Signature")
	})
}

// PayPal receives PayPal event deliveries. PayPal spreads the transmission
// proof across several headers; they are packed into one JSON blob for the
// adapter's verify-webhook-signature call.
func PayPal(processor whsvc.Processor, logg *logger.Logger) http.HandlerFunc {
	return handle(processor, logg, enums.ProviderPayPal, func(r *http.Request) string {
		sig, _ := json.Marshal(map[string]string{
			"transmission_id":   r.Header.Get("Paypal-Transmission-Id"),
			"transmission_time": r.Header.Get("Paypal-Transmission-Time"),
			"transmission_sig":  r.Header.Get("Paypal-Transmission-Sig"),
			"cert_url":          r.Header.Get("Paypal-Cert-Url"),
			"auth_algo":         r.Header.Get("Paypal-Auth-Algo"),
		})
		return string(sig)
	})
}

// Alipay receives Alipay notifications. The RSA2 signature travels inside the
// form body, so no header is extracted.
func Alipay(processor whsvc.Processor, logg *logger.Logger) http.HandlerFunc {
	return handle(processor, logg, enums.ProviderAlipay, func(r *http.Request) string {
		return ""
	})
}

func handle(processor whsvc.Processor, logg *logger.Logger, provider enums.Provider, signature func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook body"))
			return
		}

		if err := processor.Process(ctx, provider, payload, signature(r)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Alipay expects the literal "success" body; the envelope satisfies
		// Stripe and PayPal, which only look at the 2xx status.
		if provider == enums.ProviderAlipay {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"received": "true"})
	}
}
