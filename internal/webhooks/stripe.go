package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// stripeEvent is the envelope slice of a Stripe event the translator needs;
// signature verification already proved the body authentic.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePaymentIntent struct {
	ID               string `json:"id"`
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	TrialEnd int64  `json:"trial_end"`
	Items    struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type stripeCharge struct {
	PaymentIntent string `json:"payment_intent"`
}

// StripeTranslator parses Stripe event envelopes into inbound events.
func StripeTranslator(payload []byte) (*InboundEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parsing stripe event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("stripe event has no id")
	}

	inbound := &InboundEvent{
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         json.RawMessage(payload),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		inbound.Apply = stripeIntentApply(event.Data.Object, enums.PaymentStatusSucceeded)
	case "payment_intent.payment_failed":
		inbound.Apply = stripeIntentApply(event.Data.Object, enums.PaymentStatusFailed)
	case "payment_intent.processing":
		inbound.Apply = stripeIntentApply(event.Data.Object, enums.PaymentStatusProcessing)
	case "payment_intent.canceled":
		inbound.Apply = stripeIntentApply(event.Data.Object, enums.PaymentStatusCanceled)
	case "charge.refunded":
		var charge stripeCharge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("parsing stripe charge: %w", err)
		}
		if charge.PaymentIntent != "" {
			inbound.Apply = func(ctx context.Context, applier Applier) error {
				return applier.RefundNotice(ctx, charge.PaymentIntent)
			}
		}
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("parsing stripe subscription: %w", err)
		}
		result := stripeSubscriptionResult(&sub)
		if event.Type == "customer.subscription.deleted" {
			result.Status = enums.SubscriptionStatusCanceled
		}
		inbound.Apply = func(ctx context.Context, applier Applier) error {
			return applier.SubscriptionState(ctx, sub.ID, result)
		}
	}

	return inbound, nil
}

func stripeIntentApply(object json.RawMessage, status enums.PaymentStatus) func(context.Context, Applier) error {
	return func(ctx context.Context, applier Applier) error {
		var intent stripePaymentIntent
		if err := json.Unmarshal(object, &intent); err != nil {
			return fmt.Errorf("parsing stripe payment intent: %w", err)
		}
		result := &gateway.PaymentResult{
			Success:           status == enums.PaymentStatusSucceeded,
			ProviderPaymentID: intent.ID,
			Status:            status,
		}
		if intent.LastPaymentError != nil {
			code := intent.LastPaymentError.DeclineCode
			if code == "" {
				code = intent.LastPaymentError.Code
			}
			result.Failure = &gateway.Failure{Code: code, Message: intent.LastPaymentError.Message}
		}
		return applier.PaymentResult(ctx, intent.ID, result)
	}
}

func stripeSubscriptionResult(sub *stripeSubscription) *gateway.SubscriptionResult {
	result := &gateway.SubscriptionResult{
		SubscriptionID: sub.ID,
		Status:         mapStripeSubscriptionStatus(sub.Status),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			result.CurrentPeriodStart = &start
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			result.CurrentPeriodEnd = &end
		}
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		result.TrialEnd = &trialEnd
	}
	return result
}

func mapStripeSubscriptionStatus(status string) enums.SubscriptionStatus {
	switch status {
	case "trialing":
		return enums.SubscriptionStatusTrialing
	case "active":
		return enums.SubscriptionStatusActive
	case "past_due", "unpaid":
		return enums.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return enums.SubscriptionStatusCanceled
	default:
		return enums.SubscriptionStatusActive
	}
}
