package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// Gateway is the uniform contract every payment provider adapter implements.
// Operations have identical semantics across providers; callers never branch
// on the provider tag.
//
// Transport and provider-reported errors surface as typed errors. A declined
// charge is not an error: it comes back in PaymentResult.Failure with
// Success=false.
type Gateway interface {
	Provider() enums.Provider

	CreatePaymentIntent(ctx context.Context, input CreatePaymentIntentInput) (*PaymentResult, error)
	ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*PaymentResult, error)
	// GetPaymentStatus is idempotent and safe to poll.
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (*PaymentResult, error)
	CreateRefund(ctx context.Context, input CreateRefundInput) (*RefundResult, error)
	CreateCustomer(ctx context.Context, input CreateCustomerInput) (string, error)
	AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error
	CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*SubscriptionResult, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error
	VerifyWebhookSignature(payload []byte, signatureHeader string) error
}

// RefundStatusQuerier is implemented by adapters whose provider can report
// the state of an individual refund, keyed by the RefundKey the refund was
// created with. Crash recovery prefers this over inferring refund state from
// the payment status.
type RefundStatusQuerier interface {
	GetRefundStatus(ctx context.Context, providerPaymentID string, refundKey string) (*RefundResult, error)
}

type CreatePaymentIntentInput struct {
	Amount      decimal.Decimal
	Currency    string
	CustomerRef string
	MethodRef   string
	Description string
	Metadata    map[string]string
}

type CreateRefundInput struct {
	ProviderPaymentID string
	// Amount nil means full refund of the remaining refundable balance.
	Amount   *decimal.Decimal
	Currency string
	Reason   string
	// RefundKey deduplicates the refund at the provider and later keys
	// RefundStatusQuerier lookups. Callers pass the refund request id.
	RefundKey string
}

type CreateCustomerInput struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type CreateSubscriptionInput struct {
	CustomerRef  string
	PlanPriceRef string
	TrialDays    int
	Metadata     map[string]string
}

// Failure carries a provider-reported business decline (card declined,
// insufficient funds). Codes are normalized, messages are provider text.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PaymentResult struct {
	Success           bool
	ProviderPaymentID string
	Status            enums.PaymentStatus
	ReceiptURL        string
	// RefundedAmount is the provider's cumulative refunded total for this
	// payment, zero when the provider does not report it on a status read.
	RefundedAmount decimal.Decimal
	Failure        *Failure
}

type RefundResult struct {
	Success    bool
	RefundID   string
	Amount     decimal.Decimal
	RefundedAt time.Time
}

type SubscriptionResult struct {
	SubscriptionID     string
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
}
