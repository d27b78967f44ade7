package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/money"
	pkgpaypal "github.com/vidorahq/vidora-billing/pkg/paypal"
)

// Adapter implements the gateway contract on PayPal's Orders v2, Vault v3 and
// Billing Subscriptions APIs.
type Adapter struct {
	client *pkgpaypal.Client
}

func NewAdapter(client *pkgpaypal.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("paypal client is required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Provider() enums.Provider {
	return enums.ProviderPayPal
}

type amountPayload struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	if err := money.ValidateAmount(input.Amount, input.Currency); err != nil {
		return nil, err
	}

	unit := map[string]any{
		"amount": amountPayload{
			CurrencyCode: input.Currency,
			Value:        money.Format(input.Amount, input.Currency),
		},
	}
	if input.Description != "" {
		unit["description"] = input.Description
	}
	if ref, ok := input.Metadata["reference_id"]; ok {
		unit["custom_id"] = ref
	}

	body := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []any{unit},
	}
	if input.MethodRef != "" {
		body["payment_source"] = map[string]any{
			"token": map[string]any{"id": input.MethodRef, "type": "PAYMENT_METHOD_TOKEN"},
		}
	}

	var order orderResponse
	if err := a.client.Post(ctx, "/v2/checkout/orders", body, &order); err != nil {
		return declineOrTransport(err, "CreatePaymentIntent")
	}
	return orderResult(&order), nil
}

func (a *Adapter) ConfirmPayment(ctx context.Context, intentID string, methodRef string) (*gateway.PaymentResult, error) {
	var body any
	if methodRef != "" {
		body = map[string]any{
			"payment_source": map[string]any{
				"token": map[string]any{"id": methodRef, "type": "PAYMENT_METHOD_TOKEN"},
			},
		}
	}

	var order orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", intentID)
	if err := a.client.Post(ctx, path, body, &order); err != nil {
		return declineOrTransport(err, "ConfirmPayment")
	}
	return orderResult(&order), nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	var order orderResponse
	if err := a.client.Get(ctx, "/v2/checkout/orders/"+providerPaymentID, &order); err != nil {
		return nil, a.transport("GetPaymentStatus", err)
	}
	return orderResult(&order), nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	// Refunds target the capture, not the order.
	var order orderResponse
	if err := a.client.Get(ctx, "/v2/checkout/orders/"+input.ProviderPaymentID, &order); err != nil {
		return nil, a.transport("CreateRefund", err)
	}
	captureID := firstCaptureID(&order)
	if captureID == "" {
		return nil, &gateway.DeclinedError{
			Provider: enums.ProviderPayPal,
			Code:     "NO_CAPTURE",
			Message:  "order has no captured payment to refund",
		}
	}

	body := map[string]any{}
	if input.Amount != nil {
		body["amount"] = amountPayload{
			CurrencyCode: input.Currency,
			Value:        money.Format(*input.Amount, input.Currency),
		}
	}
	if input.Reason != "" {
		body["note_to_payer"] = input.Reason
	}

	var refundResp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	}
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	if err := a.client.Post(ctx, path, body, &refundResp); err != nil {
		var apiErr *pkgpaypal.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return nil, &gateway.DeclinedError{
				Provider: enums.ProviderPayPal,
				Code:     apiErr.Issue(),
				Message:  apiErr.Message,
			}
		}
		return nil, a.transport("CreateRefund", err)
	}

	amount := decimal.Zero
	if refundResp.Amount.Value != "" {
		parsed, err := decimal.NewFromString(refundResp.Amount.Value)
		if err == nil {
			amount = parsed
		}
	}
	return &gateway.RefundResult{
		Success:    refundResp.Status == "COMPLETED" || refundResp.Status == "PENDING",
		RefundID:   refundResp.ID,
		Amount:     amount,
		RefundedAt: time.Now().UTC(),
	}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, input gateway.CreateCustomerInput) (string, error) {
	body := map[string]any{
		"payment_source": map[string]any{
			"paypal": map[string]any{
				"usage_type":    "MERCHANT",
				"email_address": input.Email,
			},
		},
	}

	var resp struct {
		Customer struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	if err := a.client.Post(ctx, "/v3/vault/setup-tokens", body, &resp); err != nil {
		return "", a.transport("CreateCustomer", err)
	}
	return resp.Customer.ID, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerRef string, methodRef string) error {
	body := map[string]any{
		"customer": map[string]any{"id": customerRef},
		"payment_source": map[string]any{
			"token": map[string]any{"id": methodRef, "type": "SETUP_TOKEN"},
		},
	}
	if err := a.client.Post(ctx, "/v3/vault/payment-tokens", body, nil); err != nil {
		return a.transport("AttachPaymentMethod", err)
	}
	return nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	// Trial length lives on the PayPal billing plan itself; TrialDays is
	// advisory here and reflected back in the local row.
	body := map[string]any{
		"plan_id": input.PlanPriceRef,
	}
	if ref, ok := input.Metadata["reference_id"]; ok {
		body["custom_id"] = ref
	}

	var resp struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		BillingInfo struct {
			NextBillingTime time.Time `json:"next_billing_time"`
		} `json:"billing_info"`
		StartTime time.Time `json:"start_time"`
	}
	if err := a.client.Post(ctx, "/v1/billing/subscriptions", body, &resp); err != nil {
		return nil, a.transport("CreateSubscription", err)
	}

	result := &gateway.SubscriptionResult{
		SubscriptionID: resp.ID,
		Status:         mapSubscriptionStatus(resp.Status, input.TrialDays),
	}
	if !resp.StartTime.IsZero() {
		start := resp.StartTime.UTC()
		result.CurrentPeriodStart = &start
	}
	if !resp.BillingInfo.NextBillingTime.IsZero() {
		end := resp.BillingInfo.NextBillingTime.UTC()
		result.CurrentPeriodEnd = &end
	}
	if input.TrialDays > 0 {
		trialEnd := time.Now().AddDate(0, 0, input.TrialDays).UTC()
		result.TrialEnd = &trialEnd
	}
	return result, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	// At-period-end cancellation suspends auto-billing; the period-end sweep
	// finishes the local transition.
	action := "suspend"
	reason := "cancel at period end"
	if immediately {
		action = "cancel"
		reason = "canceled by user"
	}

	path := fmt.Sprintf("/v1/billing/subscriptions/%s/%s", providerSubscriptionID, action)
	if err := a.client.Post(ctx, path, map[string]any{"reason": reason}, nil); err != nil {
		return a.transport("CancelSubscription", err)
	}
	return nil
}

// webhookSignature is the set of PAYPAL-* headers the webhook controller
// packs into the signature argument.
type webhookSignature struct {
	TransmissionID   string `json:"transmission_id"`
	TransmissionTime string `json:"transmission_time"`
	TransmissionSig  string `json:"transmission_sig"`
	CertURL          string `json:"cert_url"`
	AuthAlgo         string `json:"auth_algo"`
}

func (a *Adapter) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	var sig webhookSignature
	if err := json.Unmarshal([]byte(signatureHeader), &sig); err != nil {
		return fmt.Errorf("paypal signature header: %w", err)
	}

	body := map[string]any{
		"transmission_id":   sig.TransmissionID,
		"transmission_time": sig.TransmissionTime,
		"transmission_sig":  sig.TransmissionSig,
		"cert_url":          sig.CertURL,
		"auth_algo":         sig.AuthAlgo,
		"webhook_id":        a.client.WebhookID(),
		"webhook_event":     json.RawMessage(payload),
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.client.Post(ctx, "/v1/notifications/verify-webhook-signature", body, &resp); err != nil {
		return a.transport("VerifyWebhookSignature", err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("paypal signature verification failed: %s", resp.VerificationStatus)
	}
	return nil
}

func (a *Adapter) transport(operation string, err error) error {
	return &gateway.TransportError{
		Provider:  enums.ProviderPayPal,
		Operation: operation,
		Err:       err,
	}
}

// declineOrTransport turns instrument declines into a failed PaymentResult
// and everything else into a transport error.
func declineOrTransport(err error, operation string) (*gateway.PaymentResult, error) {
	var apiErr *pkgpaypal.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		switch apiErr.Issue() {
		case "INSTRUMENT_DECLINED", "PAYER_CANNOT_PAY", "TRANSACTION_REFUSED":
			return &gateway.PaymentResult{
				Success: false,
				Status:  enums.PaymentStatusFailed,
				Failure: &gateway.Failure{Code: apiErr.Issue(), Message: apiErr.Message},
			}, nil
		}
	}
	return nil, &gateway.TransportError{
		Provider:  enums.ProviderPayPal,
		Operation: operation,
		Err:       err,
	}
}

func orderResult(order *orderResponse) *gateway.PaymentResult {
	result := &gateway.PaymentResult{
		ProviderPaymentID: order.ID,
		Status:            mapOrderStatus(order.Status),
	}
	result.Success = result.Status == enums.PaymentStatusSucceeded

	// The order status stays COMPLETED after refunds; the captures carry the
	// refund state.
	if result.Status == enums.PaymentStatusSucceeded {
		switch captureRefundState(order) {
		case "REFUNDED":
			result.Status = enums.PaymentStatusRefunded
		case "PARTIALLY_REFUNDED":
			result.Status = enums.PaymentStatusPartiallyRefunded
		}
	}
	return result
}

// captureRefundState reports the strongest refund state across the order's
// captures.
func captureRefundState(order *orderResponse) string {
	state := ""
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			switch capture.Status {
			case "REFUNDED":
				return "REFUNDED"
			case "PARTIALLY_REFUNDED":
				state = "PARTIALLY_REFUNDED"
			}
		}
	}
	return state
}

func firstCaptureID(order *orderResponse) string {
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.Status == "COMPLETED" || capture.Status == "PARTIALLY_REFUNDED" {
				return capture.ID
			}
		}
	}
	return ""
}

func mapOrderStatus(status string) enums.PaymentStatus {
	switch status {
	case "COMPLETED":
		return enums.PaymentStatusSucceeded
	case "VOIDED":
		return enums.PaymentStatusCanceled
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusPending
	}
}

func mapSubscriptionStatus(status string, trialDays int) enums.SubscriptionStatus {
	switch status {
	case "ACTIVE":
		if trialDays > 0 {
			return enums.SubscriptionStatusTrialing
		}
		return enums.SubscriptionStatusActive
	case "SUSPENDED":
		return enums.SubscriptionStatusPastDue
	case "CANCELLED", "EXPIRED":
		return enums.SubscriptionStatusCanceled
	default:
		return enums.SubscriptionStatusActive
	}
}

var _ gateway.Gateway = (*Adapter)(nil)
