package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// AlipayTranslator parses Alipay's form-encoded asynchronous notifications.
// Trade status syncs drive payments, deduction agreement sign/unsign
// notifications drive subscriptions.
func AlipayTranslator(payload []byte) (*InboundEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("parsing alipay notification: %w", err)
	}

	notifyID := values.Get("notify_id")
	if notifyID == "" {
		return nil, fmt.Errorf("alipay notification has no notify_id")
	}
	notifyType := values.Get("notify_type")

	// The durable record stores jsonb; flatten the form fields.
	flat := map[string]string{}
	for key := range values {
		flat[key] = values.Get(key)
	}
	rawPayload, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("encoding alipay notification: %w", err)
	}

	inbound := &InboundEvent{
		ProviderEventID: notifyID,
		EventType:       notifyType,
		Payload:         rawPayload,
	}

	switch notifyType {
	case "trade_status_sync":
		tradeNo := values.Get("trade_no")
		if tradeNo == "" {
			return nil, fmt.Errorf("alipay trade sync has no trade_no")
		}
		if values.Get("refund_fee") != "" {
			inbound.Apply = func(ctx context.Context, applier Applier) error {
				return applier.RefundNotice(ctx, tradeNo)
			}
			break
		}
		status := mapAlipayTradeStatus(values.Get("trade_status"))
		inbound.Apply = func(ctx context.Context, applier Applier) error {
			return applier.PaymentResult(ctx, tradeNo, &gateway.PaymentResult{
				Success:           status == enums.PaymentStatusSucceeded,
				ProviderPaymentID: tradeNo,
				Status:            status,
			})
		}
	case "dut_user_sign", "dut_user_unsign":
		agreementNo := values.Get("agreement_no")
		if agreementNo == "" {
			return nil, fmt.Errorf("alipay agreement notification has no agreement_no")
		}
		status := enums.SubscriptionStatusActive
		if notifyType == "dut_user_unsign" {
			status = enums.SubscriptionStatusCanceled
		}
		inbound.Apply = func(ctx context.Context, applier Applier) error {
			return applier.SubscriptionState(ctx, agreementNo, &gateway.SubscriptionResult{
				SubscriptionID: agreementNo,
				Status:         status,
			})
		}
	}

	return inbound, nil
}

func mapAlipayTradeStatus(status string) enums.PaymentStatus {
	switch status {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return enums.PaymentStatusSucceeded
	case "TRADE_CLOSED":
		return enums.PaymentStatusCanceled
	default:
		return enums.PaymentStatusPending
	}
}
