package paypal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgpaypal "github.com/vidorahq/vidora-billing/pkg/paypal"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewAdapter(pkgpaypal.NewStubClient(server.URL, "wh-1"))
	require.NoError(t, err)
	return adapter
}

func TestCreatePaymentIntentSendsMajorUnitsAsDecimalString(t *testing.T) {
	var captured map[string]any
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ORDER-1", "status": "CREATED"})
	}))

	result, err := adapter.CreatePaymentIntent(t.Context(), gateway.CreatePaymentIntentInput{
		Amount:   decimal.RequireFromString("12.50"),
		Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, "ORDER-1", result.ProviderPaymentID)
	require.Equal(t, enums.PaymentStatusPending, result.Status)
	require.False(t, result.Success)

	units := captured["purchase_units"].([]any)
	amount := units[0].(map[string]any)["amount"].(map[string]any)
	require.Equal(t, "12.50", amount["value"])
	require.Equal(t, "USD", amount["currency_code"])
}

func TestConfirmPaymentMapsInstrumentDeclineToFailure(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":    "UNPROCESSABLE_ENTITY",
			"message": "The requested action could not be performed.",
			"details": []map[string]any{{"issue": "INSTRUMENT_DECLINED"}},
		})
	}))

	result, err := adapter.ConfirmPayment(t.Context(), "ORDER-1", "")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, enums.PaymentStatusFailed, result.Status)
	require.Equal(t, "INSTRUMENT_DECLINED", result.Failure.Code)
}

func TestConfirmPaymentServerErrorIsTransport(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := adapter.ConfirmPayment(t.Context(), "ORDER-1", "")
	var transport *gateway.TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, enums.ProviderPayPal, transport.Provider)
}

func TestCreateRefundTargetsCapture(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "ORDER-1", "status": "COMPLETED",
				"purchase_units": []map[string]any{{
					"payments": map[string]any{
						"captures": []map[string]any{{"id": "CAP-9", "status": "COMPLETED"}},
					},
				}},
			})
		default:
			require.Equal(t, "/v2/payments/captures/CAP-9/refund", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "REF-1", "status": "COMPLETED",
				"amount": map[string]any{"currency_code": "USD", "value": "5.00"},
			})
		}
	}))

	amount := decimal.RequireFromString("5.00")
	result, err := adapter.CreateRefund(t.Context(), gateway.CreateRefundInput{
		ProviderPaymentID: "ORDER-1",
		Amount:            &amount,
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "REF-1", result.RefundID)
	require.True(t, amount.Equal(result.Amount))
}

func TestGetPaymentStatusSurfacesCaptureRefunds(t *testing.T) {
	captureStatus := "PARTIALLY_REFUNDED"
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "ORDER-1", "status": "COMPLETED",
			"purchase_units": []map[string]any{{
				"payments": map[string]any{
					"captures": []map[string]any{{"id": "CAP-9", "status": captureStatus}},
				},
			}},
		})
	}))

	result, err := adapter.GetPaymentStatus(t.Context(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPartiallyRefunded, result.Status)

	captureStatus = "REFUNDED"
	result, err = adapter.GetPaymentStatus(t.Context(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusRefunded, result.Status)
}

func TestVerifyWebhookSignature(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/notifications/verify-webhook-signature", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "wh-1", body["webhook_id"])
		_ = json.NewEncoder(w).Encode(map[string]any{"verification_status": "SUCCESS"})
	}))

	sig, _ := json.Marshal(map[string]string{
		"transmission_id":   "t-1",
		"transmission_time": "2026-01-10T00:00:00Z",
		"transmission_sig":  "sig",
		"cert_url":          "https://api.paypal.com/cert",
		"auth_algo":         "SHA256withRSA",
	})
	require.NoError(t, adapter.VerifyWebhookSignature([]byte(`{"id":"WH-1"}`), string(sig)))
}
