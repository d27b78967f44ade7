package alipay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	pkgalipay "github.com/vidorahq/vidora-billing/pkg/alipay"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/money"
)

// Adapter implements the gateway contract on Alipay's trade and periodic
// deduction agreement APIs.
//
// Alipay has no customer or vault objects: buyers are identified at payment
// time and recurring billing rides on a deduction agreement the user signs in
// the Alipay app. CreateCustomer therefore mints a stable local reference and
// AttachPaymentMethod validates the agreement the methodRef names. Renewals
// are merchant-initiated deductions driven by the renewal cron, not by
// Alipay's clock, so CreateSubscription returns no provider-period bounds.
type Adapter struct {
	client *pkgalipay.Client
}

func NewAdapter(client *pkgalipay.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("alipay client is required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Provider() enums.Provider {
	return enums.ProviderAlipay
}

type tradeResponse struct {
	TradeNo     string `json:"trade_no"`
	OutTradeNo  string `json:"out_trade_no"`
	TradeStatus string `json:"trade_status"`
	SendPayDate string `json:"send_pay_date"`
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, input gateway.CreatePaymentIntentInput) (*gateway.PaymentResult, error) {
	if err := money.ValidateAmount(input.Amount, input.Currency); err != nil {
		return nil, err
	}

	outTradeNo := input.Metadata["reference_id"]
	if outTradeNo == "" {
		outTradeNo = uuid.NewString()
	}

	biz := map[string]any{
		"out_trade_no": outTradeNo,
		"total_amount": money.Format(input.Amount, input.Currency),
		"subject":      input.Description,
	}
	if biz["subject"] == "" {
		biz["subject"] = "subscription charge"
	}
	// A methodRef names a signed deduction agreement; its presence turns the
	// create into an immediate merchant-initiated deduction.
	method := "alipay.trade.create"
	if input.MethodRef != "" {
		method = "alipay.trade.pay"
		biz["product_code"] = "CYCLE_PAY_AUTH"
		biz["agreement_params"] = map[string]any{"agreement_no": input.MethodRef}
	}

	var resp tradeResponse
	if err := a.client.Execute(ctx, method, biz, &resp); err != nil {
		return declineOrTransport(err, "CreatePaymentIntent")
	}

	status := enums.PaymentStatusPending
	if method == "alipay.trade.pay" {
		status = enums.PaymentStatusSucceeded
	}
	return &gateway.PaymentResult{
		Success:           status == enums.PaymentStatusSucceeded,
		ProviderPaymentID: resp.TradeNo,
		Status:            status,
	}, nil
}

// ConfirmPayment polls the trade: Alipay confirmation happens in the user's
// wallet app, so the server-side equivalent is a status query.
func (a *Adapter) ConfirmPayment(ctx context.Context, intentID string, _ string) (*gateway.PaymentResult, error) {
	return a.GetPaymentStatus(ctx, intentID)
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*gateway.PaymentResult, error) {
	var resp tradeResponse
	err := a.client.Execute(ctx, "alipay.trade.query", map[string]any{
		"trade_no": providerPaymentID,
	}, &resp)
	if err != nil {
		return declineOrTransport(err, "GetPaymentStatus")
	}

	status := mapTradeStatus(resp.TradeStatus, resp.SendPayDate != "")
	return &gateway.PaymentResult{
		Success:           status == enums.PaymentStatusSucceeded,
		ProviderPaymentID: resp.TradeNo,
		Status:            status,
	}, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundResult, error) {
	outRequestNo := input.RefundKey
	if outRequestNo == "" {
		outRequestNo = uuid.NewString()
	}
	biz := map[string]any{
		"trade_no":       input.ProviderPaymentID,
		"out_request_no": outRequestNo,
	}
	if input.Amount != nil {
		biz["refund_amount"] = money.Format(*input.Amount, input.Currency)
	}
	if input.Reason != "" {
		biz["refund_reason"] = input.Reason
	}

	var resp struct {
		TradeNo    string `json:"trade_no"`
		RefundFee  string `json:"refund_fee"`
		FundChange string `json:"fund_change"`
	}
	if err := a.client.Execute(ctx, "alipay.trade.refund", biz, &resp); err != nil {
		var business *pkgalipay.BusinessError
		if errors.As(err, &business) {
			return nil, &gateway.DeclinedError{
				Provider: enums.ProviderAlipay,
				Code:     business.SubCode,
				Message:  business.Message,
			}
		}
		return nil, a.transport("CreateRefund", err)
	}

	amount := decimal.Zero
	if resp.RefundFee != "" {
		if parsed, err := decimal.NewFromString(resp.RefundFee); err == nil {
			amount = parsed
		}
	}
	return &gateway.RefundResult{
		Success:    resp.FundChange == "Y",
		RefundID:   resp.TradeNo,
		Amount:     amount,
		RefundedAt: time.Now().UTC(),
	}, nil
}

// GetRefundStatus queries a single refund by the out_request_no it was
// created with. A refund Alipay has no record of comes back Success=false,
// which recovery reads as "the crashed call never reached the provider".
func (a *Adapter) GetRefundStatus(ctx context.Context, providerPaymentID string, refundKey string) (*gateway.RefundResult, error) {
	var resp struct {
		TradeNo      string `json:"trade_no"`
		OutRequestNo string `json:"out_request_no"`
		RefundStatus string `json:"refund_status"`
		RefundAmount string `json:"refund_amount"`
	}
	err := a.client.Execute(ctx, "alipay.trade.fastpay.refund.query", map[string]any{
		"trade_no":       providerPaymentID,
		"out_request_no": refundKey,
	}, &resp)
	if err != nil {
		var business *pkgalipay.BusinessError
		if errors.As(err, &business) {
			// The trade exists but this refund was never filed.
			return &gateway.RefundResult{Success: false}, nil
		}
		return nil, a.transport("GetRefundStatus", err)
	}

	amount := decimal.Zero
	if resp.RefundAmount != "" {
		if parsed, parseErr := decimal.NewFromString(resp.RefundAmount); parseErr == nil {
			amount = parsed
		}
	}
	return &gateway.RefundResult{
		Success:    resp.RefundStatus == "REFUND_SUCCESS",
		RefundID:   resp.TradeNo,
		Amount:     amount,
		RefundedAt: time.Now().UTC(),
	}, nil
}

// CreateCustomer mints a stable local reference; Alipay resolves the actual
// buyer identity at payment time.
func (a *Adapter) CreateCustomer(_ context.Context, input gateway.CreateCustomerInput) (string, error) {
	if input.Email == "" {
		return "", errors.New("email is required")
	}
	return "alipay-buyer:" + input.Email, nil
}

// AttachPaymentMethod validates the deduction agreement named by methodRef.
func (a *Adapter) AttachPaymentMethod(ctx context.Context, _ string, methodRef string) error {
	var resp struct {
		Status string `json:"status"`
	}
	err := a.client.Execute(ctx, "alipay.user.agreement.query", map[string]any{
		"agreement_no": methodRef,
	}, &resp)
	if err != nil {
		return a.transport("AttachPaymentMethod", err)
	}
	if resp.Status != "NORMAL" {
		return &gateway.DeclinedError{
			Provider: enums.ProviderAlipay,
			Code:     "AGREEMENT_" + resp.Status,
			Message:  "deduction agreement is not active",
		}
	}
	return nil
}

// CreateSubscription validates the agreement and returns it as the provider
// subscription id. Billing-period bounds stay nil: the renewal cron owns the
// cycle for Alipay subscriptions.
func (a *Adapter) CreateSubscription(ctx context.Context, input gateway.CreateSubscriptionInput) (*gateway.SubscriptionResult, error) {
	agreementNo := input.Metadata["agreement_no"]
	if agreementNo == "" {
		return nil, &gateway.DeclinedError{
			Provider: enums.ProviderAlipay,
			Code:     "AGREEMENT_REQUIRED",
			Message:  "alipay subscriptions require a signed deduction agreement",
		}
	}

	var resp struct {
		Status string `json:"status"`
	}
	err := a.client.Execute(ctx, "alipay.user.agreement.query", map[string]any{
		"agreement_no": agreementNo,
	}, &resp)
	if err != nil {
		return nil, a.transport("CreateSubscription", err)
	}
	if resp.Status != "NORMAL" {
		return nil, &gateway.DeclinedError{
			Provider: enums.ProviderAlipay,
			Code:     "AGREEMENT_" + resp.Status,
			Message:  "deduction agreement is not active",
		}
	}

	result := &gateway.SubscriptionResult{
		SubscriptionID: agreementNo,
		Status:         enums.SubscriptionStatusActive,
	}
	if input.TrialDays > 0 {
		result.Status = enums.SubscriptionStatusTrialing
		trialEnd := time.Now().AddDate(0, 0, input.TrialDays).UTC()
		result.TrialEnd = &trialEnd
	}
	return result, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, immediately bool) error {
	// Unsigning the agreement stops future deductions either way; the local
	// row keeps entitlement until period end when immediately is false.
	err := a.client.Execute(ctx, "alipay.user.agreement.unsign", map[string]any{
		"agreement_no": providerSubscriptionID,
	}, nil)
	if err != nil {
		var business *pkgalipay.BusinessError
		if errors.As(err, &business) && !immediately {
			// Already unsigned is fine for an at-period-end cancel.
			if business.SubCode == "USER_AGREEMENT_NOT_EXIST" {
				return nil
			}
		}
		return a.transport("CancelSubscription", err)
	}
	return nil
}

// VerifyWebhookSignature verifies the RSA2 signature embedded in the
// form-encoded notification body; Alipay sends no signature header.
func (a *Adapter) VerifyWebhookSignature(payload []byte, _ string) error {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return fmt.Errorf("alipay notification body: %w", err)
	}
	return a.client.VerifyNotification(values)
}

func (a *Adapter) transport(operation string, err error) error {
	return &gateway.TransportError{
		Provider:  enums.ProviderAlipay,
		Operation: operation,
		Err:       err,
	}
}

// declineOrTransport turns buyer-side deduction failures into a failed
// PaymentResult and everything else into a transport error.
func declineOrTransport(err error, operation string) (*gateway.PaymentResult, error) {
	var business *pkgalipay.BusinessError
	if errors.As(err, &business) {
		switch business.SubCode {
		case "ACQ.BUYER_BALANCE_NOT_ENOUGH", "ACQ.BUYER_BANKCARD_BALANCE_NOT_ENOUGH",
			"ACQ.USER_BALANCE_NOT_ENOUGH", "ACQ.TRADE_BUYER_NOT_MATCH":
			return &gateway.PaymentResult{
				Success: false,
				Status:  enums.PaymentStatusFailed,
				Failure: &gateway.Failure{Code: business.SubCode, Message: business.Message},
			}, nil
		}
	}
	return nil, &gateway.TransportError{
		Provider:  enums.ProviderAlipay,
		Operation: operation,
		Err:       err,
	}
}

// mapTradeStatus translates the trade status; TRADE_CLOSED is overloaded,
// meaning full refund for a trade the buyer actually paid and timeout close
// for one they never did.
func mapTradeStatus(status string, paid bool) enums.PaymentStatus {
	switch status {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return enums.PaymentStatusSucceeded
	case "TRADE_CLOSED":
		if paid {
			return enums.PaymentStatusRefunded
		}
		return enums.PaymentStatusCanceled
	case "WAIT_BUYER_PAY":
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusPending
	}
}

var (
	_ gateway.Gateway             = (*Adapter)(nil)
	_ gateway.RefundStatusQuerier = (*Adapter)(nil)
)
