package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// paypalCapture covers both capture and refund resources: either way the
// order id in supplementary_data is our provider payment reference.
type paypalCapture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetails *struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type paypalSubscription struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
}

// PayPalTranslator parses PayPal webhook envelopes into inbound events.
func PayPalTranslator(payload []byte) (*InboundEvent, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parsing paypal event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("paypal event has no id")
	}

	inbound := &InboundEvent{
		ProviderEventID: event.ID,
		EventType:       event.EventType,
		Payload:         json.RawMessage(payload),
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		inbound.Apply = paypalCaptureApply(event.Resource, enums.PaymentStatusSucceeded)
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		inbound.Apply = paypalCaptureApply(event.Resource, enums.PaymentStatusFailed)
	case "PAYMENT.CAPTURE.REFUNDED":
		var capture paypalCapture
		if err := json.Unmarshal(event.Resource, &capture); err != nil {
			return nil, fmt.Errorf("parsing paypal capture: %w", err)
		}
		if ref := paypalPaymentRef(&capture); ref != "" {
			inbound.Apply = func(ctx context.Context, applier Applier) error {
				return applier.RefundNotice(ctx, ref)
			}
		}
	case "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.UPDATED",
		"BILLING.SUBSCRIPTION.SUSPENDED", "BILLING.SUBSCRIPTION.CANCELLED",
		"BILLING.SUBSCRIPTION.EXPIRED":
		var sub paypalSubscription
		if err := json.Unmarshal(event.Resource, &sub); err != nil {
			return nil, fmt.Errorf("parsing paypal subscription: %w", err)
		}
		result := paypalSubscriptionResult(&sub)
		inbound.Apply = func(ctx context.Context, applier Applier) error {
			return applier.SubscriptionState(ctx, sub.ID, result)
		}
	}

	return inbound, nil
}

func paypalCaptureApply(resource json.RawMessage, status enums.PaymentStatus) func(context.Context, Applier) error {
	return func(ctx context.Context, applier Applier) error {
		var capture paypalCapture
		if err := json.Unmarshal(resource, &capture); err != nil {
			return fmt.Errorf("parsing paypal capture: %w", err)
		}
		ref := paypalPaymentRef(&capture)
		if ref == "" {
			return fmt.Errorf("paypal capture %s names no order", capture.ID)
		}
		result := &gateway.PaymentResult{
			Success:           status == enums.PaymentStatusSucceeded,
			ProviderPaymentID: ref,
			Status:            status,
		}
		if status == enums.PaymentStatusFailed {
			reason := "capture denied"
			if capture.StatusDetails != nil && capture.StatusDetails.Reason != "" {
				reason = capture.StatusDetails.Reason
			}
			result.Failure = &gateway.Failure{Code: "CAPTURE_DENIED", Message: reason}
		}
		return applier.PaymentResult(ctx, ref, result)
	}
}

func paypalPaymentRef(capture *paypalCapture) string {
	return capture.SupplementaryData.RelatedIDs.OrderID
}

func paypalSubscriptionResult(sub *paypalSubscription) *gateway.SubscriptionResult {
	result := &gateway.SubscriptionResult{
		SubscriptionID: sub.ID,
		Status:         mapPayPalSubscriptionStatus(sub.Status),
	}
	if sub.BillingInfo.NextBillingTime != "" {
		if next, err := time.Parse(time.RFC3339, sub.BillingInfo.NextBillingTime); err == nil {
			end := next.UTC()
			result.CurrentPeriodEnd = &end
		}
	}
	return result
}

func mapPayPalSubscriptionStatus(status string) enums.SubscriptionStatus {
	switch status {
	case "ACTIVE":
		return enums.SubscriptionStatusActive
	case "SUSPENDED":
		return enums.SubscriptionStatusPastDue
	case "CANCELLED", "EXPIRED":
		return enums.SubscriptionStatusCanceled
	default:
		return enums.SubscriptionStatusActive
	}
}
