package webhooks

import (
	"context"
	"encoding/json"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// InboundEvent is a provider notification normalized to the fields the
// processor needs. Apply is nil for event types we acknowledge but ignore.
type InboundEvent struct {
	ProviderEventID string
	EventType       string
	Payload         json.RawMessage
	Apply           func(ctx context.Context, applier Applier) error
}

// Translator parses one provider's raw webhook body into an InboundEvent.
type Translator func(payload []byte) (*InboundEvent, error)

// Translators returns the built-in translator for each supported provider.
func Translators() map[enums.Provider]Translator {
	return map[enums.Provider]Translator{
		enums.ProviderStripe: StripeTranslator,
		enums.ProviderPayPal: PayPalTranslator,
		enums.ProviderAlipay: AlipayTranslator,
	}
}

// Applier is the state surface webhook events drive. Every operation is
// idempotent and forward-only, so re-applying a delivery is a no-op.
type Applier interface {
	// PaymentResult advances the payment the provider reference names.
	PaymentResult(ctx context.Context, providerPaymentID string, result *gateway.PaymentResult) error
	// SubscriptionState reconciles the subscription the provider reference
	// names with the pushed state.
	SubscriptionState(ctx context.Context, providerSubscriptionID string, result *gateway.SubscriptionResult) error
	// RefundNotice nudges recovery for refund requests stuck in processing
	// against the referenced payment.
	RefundNotice(ctx context.Context, providerPaymentID string) error
}
