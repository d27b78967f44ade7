package stripe

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

func TestMapIntentStatus(t *testing.T) {
	cases := map[stripeapi.PaymentIntentStatus]enums.PaymentStatus{
		stripeapi.PaymentIntentStatusSucceeded:             enums.PaymentStatusSucceeded,
		stripeapi.PaymentIntentStatusProcessing:            enums.PaymentStatusProcessing,
		stripeapi.PaymentIntentStatusCanceled:              enums.PaymentStatusCanceled,
		stripeapi.PaymentIntentStatusRequiresAction:        enums.PaymentStatusPending,
		stripeapi.PaymentIntentStatusRequiresPaymentMethod: enums.PaymentStatusPending,
	}
	for in, want := range cases {
		require.Equal(t, want, mapIntentStatus(in), "status %s", in)
	}
}

func TestPaymentResultCarriesDecline(t *testing.T) {
	intent := &stripeapi.PaymentIntent{
		ID:     "pi_123",
		Status: stripeapi.PaymentIntentStatusRequiresPaymentMethod,
		LastPaymentError: &stripeapi.Error{
			Code:        "card_declined",
			DeclineCode: "insufficient_funds",
			Msg:         "Your card has insufficient funds.",
		},
	}

	result := paymentResult(intent)
	require.False(t, result.Success)
	require.Equal(t, "pi_123", result.ProviderPaymentID)
	require.NotNil(t, result.Failure)
	require.Equal(t, "insufficient_funds", result.Failure.Code)
}

func TestPaymentResultReflectsChargeRefunds(t *testing.T) {
	intent := &stripeapi.PaymentIntent{
		ID:       "pi_123",
		Status:   stripeapi.PaymentIntentStatusSucceeded,
		Currency: stripeapi.CurrencyUSD,
		LatestCharge: &stripeapi.Charge{
			ReceiptURL:     "https://pay.stripe.com/receipts/r_1",
			AmountRefunded: 4000,
		},
	}

	result := paymentResult(intent)
	require.Equal(t, enums.PaymentStatusPartiallyRefunded, result.Status)
	require.True(t, decimal.RequireFromString("40").Equal(result.RefundedAmount), result.RefundedAmount.String())
	require.Equal(t, "https://pay.stripe.com/receipts/r_1", result.ReceiptURL)

	intent.LatestCharge.Refunded = true
	intent.LatestCharge.AmountRefunded = 10000
	result = paymentResult(intent)
	require.Equal(t, enums.PaymentStatusRefunded, result.Status)
	require.True(t, decimal.RequireFromString("100").Equal(result.RefundedAmount), result.RefundedAmount.String())
}

func TestMapRefundReason(t *testing.T) {
	require.Equal(t, string(stripeapi.RefundReasonDuplicate), mapRefundReason(string(enums.RefundReasonDuplicateCharge)))
	require.Equal(t, string(stripeapi.RefundReasonFraudulent), mapRefundReason(string(enums.RefundReasonFraudulent)))
	require.Equal(t, string(stripeapi.RefundReasonRequestedByCustomer), mapRefundReason(string(enums.RefundReasonServiceIssue)))
}

func TestNewAdapterRequiresClient(t *testing.T) {
	_, err := NewAdapter(nil)
	require.Error(t, err)
}
