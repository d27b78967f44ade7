package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/metrics"
)

// WithMetrics wraps a Gateway so every outbound provider call is counted and
// timed. A nil collector returns the adapter unwrapped.
func WithMetrics(g Gateway, m *metrics.GatewayMetrics) Gateway {
	if g == nil || m == nil {
		return g
	}
	return &instrumentedGateway{inner: g, metrics: m}
}

type instrumentedGateway struct {
	inner   Gateway
	metrics *metrics.GatewayMetrics
}

func (g *instrumentedGateway) Provider() enums.Provider {
	return g.inner.Provider()
}

func (g *instrumentedGateway) observe(operation string, start time.Time, err error) {
	g.metrics.ObserveCall(g.inner.Provider().String(), operation, outcomeLabel(err), time.Since(start))
}

// outcomeLabel classifies the raw adapter error; adapters return the typed
// gateway errors here and Coded is only applied further up in the services.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}

	var declined *DeclinedError
	if errors.As(err, &declined) {
		return "declined"
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return "dependency"
	}

	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeDeclined:
		return "declined"
	case pkgerrors.CodeDependency:
		return "dependency"
	default:
		return "error"
	}
}

func (g *instrumentedGateway) CreatePaymentIntent(ctx context.Context, input CreatePaymentIntentInput) (*PaymentResult, error) {
	start := time.Now()
	result, err := g.inner.CreatePaymentIntent(ctx, input)
	g.observe("create_payment_intent", start, err)
	return result, err
}

func (g *instrumentedGateway) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*PaymentResult, error) {
	start := time.Now()
	result, err := g.inner.ConfirmPayment(ctx, intentID, methodRef)
	g.observe("confirm_payment", start, err)
	return result, err
}

func (g *instrumentedGateway) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*PaymentResult, error) {
	start := time.Now()
	result, err := g.inner.GetPaymentStatus(ctx, providerPaymentID)
	g.observe("get_payment_status", start, err)
	return result, err
}

func (g *instrumentedGateway) CreateRefund(ctx context.Context, input CreateRefundInput) (*RefundResult, error) {
	start := time.Now()
	result, err := g.inner.CreateRefund(ctx, input)
	g.observe("create_refund", start, err)
	return result, err
}

// GetRefundStatus delegates when the wrapped adapter can query refunds so
// the capability survives instrumentation.
func (g *instrumentedGateway) GetRefundStatus(ctx context.Context, providerPaymentID string, refundKey string) (*RefundResult, error) {
	querier, ok := g.inner.(RefundStatusQuerier)
	if !ok {
		return nil, ErrRefundQueryUnsupported
	}
	start := time.Now()
	result, err := querier.GetRefundStatus(ctx, providerPaymentID, refundKey)
	g.observe("get_refund_status", start, err)
	return result, err
}

func (g *instrumentedGateway) CreateCustomer(ctx context.Context, input CreateCustomerInput) (string, error) {
	start := time.Now()
	ref, err := g.inner.CreateCustomer(ctx, input)
	g.observe("create_customer", start, err)
	return ref, err
}

func (g *instrumentedGateway) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	start := time.Now()
	err := g.inner.AttachPaymentMethod(ctx, customerRef, methodRef)
	g.observe("attach_payment_method", start, err)
	return err
}

func (g *instrumentedGateway) CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*SubscriptionResult, error) {
	start := time.Now()
	result, err := g.inner.CreateSubscription(ctx, input)
	g.observe("create_subscription", start, err)
	return result, err
}

func (g *instrumentedGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	start := time.Now()
	err := g.inner.CancelSubscription(ctx, providerSubscriptionID, immediately)
	g.observe("cancel_subscription", start, err)
	return err
}

// VerifyWebhookSignature is local CPU work, not a provider call; it is passed
// through unrecorded.
func (g *instrumentedGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	return g.inner.VerifyWebhookSignature(payload, signatureHeader)
}
