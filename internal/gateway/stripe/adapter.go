package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/money"
	pkgstripe "github.com/vidorahq/vidora-billing/pkg/stripe"
)

// Adapter implements the gateway contract on Stripe's PaymentIntent API.
type Adapter struct {
	client *pkgstripe.Client
}

func NewAdapter(client *pkgstripe.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Provider() enums.Provider {
	return enums.ProviderStripe
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	minor, err := money.ToMinorUnits(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripeapi.PaymentIntentParams{
		Params:   stripeapi.Params{Context: ctx},
		Amount:   stripeapi.Int64(minor),
		Currency: stripeapi.String(input.Currency),
	}
	params.AddExpand("latest_charge")
	if input.CustomerRef != "" {
		params.Customer = stripeapi.String(input.CustomerRef)
	}
	if input.MethodRef != "" {
		params.PaymentMethod = stripeapi.String(input.MethodRef)
		params.Confirm = stripeapi.Bool(true)
		params.OffSession = stripeapi.Bool(true)
	}
	if input.Description != "" {
		params.Description = stripeapi.String(input.Description)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return declineOrTransport(err, "CreatePaymentIntent")
	}
	return paymentResult(intent), nil
}

func (a *Adapter) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*gateway.PaymentResult, error) {
	params := &stripeapi.PaymentIntentConfirmParams{
		Params: stripeapi.Params{Context: ctx},
	}
	params.AddExpand("latest_charge")
	if methodRef != "" {
		params.PaymentMethod = stripeapi.String(methodRef)
	}

	intent, err := paymentintent.Confirm(intentID, params)
	if err != nil {
		return declineOrTransport(err, "ConfirmPayment")
	}
	return paymentResult(intent), nil
}

// GetPaymentStatus expands the latest charge so refund state and the receipt
// URL ride along with the intent status.
func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	params := &stripeapi.PaymentIntentParams{
		Params: stripeapi.Params{Context: ctx},
	}
	params.AddExpand("latest_charge")
	intent, err := paymentintent.Get(providerPaymentID, params)
	if err != nil {
		return nil, a.transport("GetPaymentStatus", err)
	}
	return paymentResult(intent), nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	params := &stripeapi.RefundParams{
		Params:        stripeapi.Params{Context: ctx},
		PaymentIntent: stripeapi.String(input.ProviderPaymentID),
	}
	if input.Amount != nil {
		minor, err := money.ToMinorUnits(*input.Amount, input.Currency)
		if err != nil {
			return nil, err
		}
		params.Amount = stripeapi.Int64(minor)
	}
	if input.Reason != "" {
		params.Reason = stripeapi.String(mapRefundReason(input.Reason))
	}
	if input.RefundKey != "" {
		params.SetIdempotencyKey(input.RefundKey)
	}

	ref, err := refund.New(params)
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeInvalidRequest {
			return nil, &gateway.DeclinedError{
				Provider: enums.ProviderStripe,
				Code:     string(stripeErr.Code),
				Message:  stripeErr.Msg,
			}
		}
		return nil, a.transport("CreateRefund", err)
	}

	return &gateway.RefundResult{
		Success:    ref.Status != stripeapi.RefundStatusFailed,
		RefundID:   ref.ID,
		Amount:     money.FromMinorUnits(ref.Amount, string(ref.Currency)),
		RefundedAt: time.Unix(ref.Created, 0).UTC(),
	}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, input gateway.CreateCustomerInput) (string, error) {
	params := &stripeapi.CustomerParams{
		Params: stripeapi.Params{Context: ctx},
		Email:  stripeapi.String(input.Email),
	}
	if input.Name != "" {
		params.Name = stripeapi.String(input.Name)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", a.transport("CreateCustomer", err)
	}
	return cust.ID, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	_, err := paymentmethod.Attach(methodRef, &stripeapi.PaymentMethodAttachParams{
		Params:   stripeapi.Params{Context: ctx},
		Customer: stripeapi.String(customerRef),
	})
	if err != nil {
		return a.transport("AttachPaymentMethod", err)
	}
	return nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	params := &stripeapi.SubscriptionParams{
		Params:   stripeapi.Params{Context: ctx},
		Customer: stripeapi.String(input.CustomerRef),
		Items: []*stripeapi.SubscriptionItemsParams{
			{Price: stripeapi.String(input.PlanPriceRef)},
		},
	}
	if input.TrialDays > 0 {
		params.TrialPeriodDays = stripeapi.Int64(int64(input.TrialDays))
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, a.transport("CreateSubscription", err)
	}
	return subscriptionResult(sub), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	var err error
	if immediately {
		_, err = subscription.Cancel(providerSubscriptionID, &stripeapi.SubscriptionCancelParams{
			Params: stripeapi.Params{Context: ctx},
		})
	} else {
		_, err = subscription.Update(providerSubscriptionID, &stripeapi.SubscriptionParams{
			Params:            stripeapi.Params{Context: ctx},
			CancelAtPeriodEnd: stripeapi.Bool(true),
		})
	}
	if err != nil {
		return a.transport("CancelSubscription", err)
	}
	return nil
}

func (a *Adapter) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	_, err := webhook.ConstructEvent(payload, signatureHeader, a.client.SigningSecret())
	if err != nil {
		return fmt.Errorf("stripe signature verification: %w", err)
	}
	return nil
}

func (a *Adapter) transport(operation string, err error) error {
	return &gateway.TransportError{
		Provider:  enums.ProviderStripe,
		Operation: operation,
		Err:       err,
	}
}

// declineOrTransport turns card declines into a failed PaymentResult and
// everything else into a transport error.
func declineOrTransport(err error, operation string) (*gateway.PaymentResult, error) {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeCard {
		code := string(stripeErr.DeclineCode)
		if code == "" {
			code = string(stripeErr.Code)
		}
		result := &gateway.PaymentResult{
			Success: false,
			Status:  enums.PaymentStatusFailed,
			Failure: &gateway.Failure{Code: code, Message: stripeErr.Msg},
		}
		if stripeErr.PaymentIntent != nil {
			result.ProviderPaymentID = stripeErr.PaymentIntent.ID
		}
		return result, nil
	}
	return nil, &gateway.TransportError{
		Provider:  enums.ProviderStripe,
		Operation: operation,
		Err:       err,
	}
}

func paymentResult(intent *stripeapi.PaymentIntent) *gateway.PaymentResult {
	result := &gateway.PaymentResult{
		ProviderPaymentID: intent.ID,
		Status:            mapIntentStatus(intent.Status),
	}
	result.Success = result.Status == enums.PaymentStatusSucceeded

	// The intent status stays succeeded after refunds; only the expanded
	// charge carries the refund state.
	if charge := intent.LatestCharge; charge != nil {
		if charge.ReceiptURL != "" {
			result.ReceiptURL = charge.ReceiptURL
		}
		if charge.AmountRefunded > 0 {
			result.RefundedAmount = money.FromMinorUnits(charge.AmountRefunded, string(intent.Currency))
			if result.Status == enums.PaymentStatusSucceeded {
				result.Status = enums.PaymentStatusPartiallyRefunded
			}
		}
		if charge.Refunded {
			result.Status = enums.PaymentStatusRefunded
		}
	}
	if intent.LastPaymentError != nil {
		code := string(intent.LastPaymentError.DeclineCode)
		if code == "" {
			code = string(intent.LastPaymentError.Code)
		}
		result.Failure = &gateway.Failure{Code: code, Message: intent.LastPaymentError.Msg}
	}
	return result
}

func mapIntentStatus(status stripeapi.PaymentIntentStatus) enums.PaymentStatus {
	switch status {
	case stripeapi.PaymentIntentStatusSucceeded:
		return enums.PaymentStatusSucceeded
	case stripeapi.PaymentIntentStatusProcessing:
		return enums.PaymentStatusProcessing
	case stripeapi.PaymentIntentStatusCanceled:
		return enums.PaymentStatusCanceled
	case stripeapi.PaymentIntentStatusRequiresPaymentMethod,
		stripeapi.PaymentIntentStatusRequiresConfirmation,
		stripeapi.PaymentIntentStatusRequiresAction,
		stripeapi.PaymentIntentStatusRequiresCapture:
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusPending
	}
}

func subscriptionResult(sub *stripeapi.Subscription) *gateway.SubscriptionResult {
	result := &gateway.SubscriptionResult{
		SubscriptionID: sub.ID,
		Status:         mapSubscriptionStatus(sub.Status),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		start := time.Unix(item.CurrentPeriodStart, 0).UTC()
		end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		result.CurrentPeriodStart = &start
		result.CurrentPeriodEnd = &end
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		result.TrialEnd = &trialEnd
	}
	return result
}

func mapSubscriptionStatus(status stripeapi.SubscriptionStatus) enums.SubscriptionStatus {
	switch status {
	case stripeapi.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing
	case stripeapi.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive
	case stripeapi.SubscriptionStatusPastDue, stripeapi.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case stripeapi.SubscriptionStatusCanceled, stripeapi.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled
	default:
		return enums.SubscriptionStatusActive
	}
}

// mapRefundReason narrows internal reason categories to the three values
// Stripe accepts; everything else is sent as requested_by_customer.
func mapRefundReason(reason string) string {
	switch reason {
	case string(enums.RefundReasonDuplicateCharge):
		return string(stripeapi.RefundReasonDuplicate)
	case string(enums.RefundReasonFraudulent):
		return string(stripeapi.RefundReasonFraudulent)
	default:
		return string(stripeapi.RefundReasonRequestedByCustomer)
	}
}

var _ gateway.Gateway = (*Adapter)(nil)
