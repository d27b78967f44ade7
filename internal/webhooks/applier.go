package webhooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

type paymentSyncer interface {
	ApplyExternalStatus(ctx context.Context, provider enums.Provider, providerPaymentID string, result *gateway.PaymentResult) (*models.Payment, error)
}

type subscriptionSyncer interface {
	SyncFromProvider(ctx context.Context, provider enums.Provider, providerSubscriptionID string, result *gateway.SubscriptionResult) (*models.Subscription, error)
}

type refundRecoverer interface {
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	Recover(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, error)
}

type paymentFinder interface {
	FindByProviderPaymentID(ctx context.Context, provider enums.Provider, providerPaymentID string) (*models.Payment, error)
}

// ApplierParams groups the state surfaces one provider's webhook events write
// through.
type ApplierParams struct {
	Provider      enums.Provider
	Payments      paymentSyncer
	Subscriptions subscriptionSyncer
	Refunds       refundRecoverer
	PaymentLookup paymentFinder
	Logger        *logger.Logger
}

type applier struct {
	provider      enums.Provider
	payments      paymentSyncer
	subscriptions subscriptionSyncer
	refunds       refundRecoverer
	paymentLookup paymentFinder
	logg          *logger.Logger
}

// NewApplier builds the production applier for one provider.
func NewApplier(params ApplierParams) (Applier, error) {
	if !params.Provider.IsValid() {
		return nil, fmt.Errorf("valid provider required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment syncer required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription syncer required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund recoverer required")
	}
	if params.PaymentLookup == nil {
		return nil, fmt.Errorf("payment lookup required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &applier{
		provider:      params.Provider,
		payments:      params.Payments,
		subscriptions: params.Subscriptions,
		refunds:       params.Refunds,
		paymentLookup: params.PaymentLookup,
		logg:          params.Logger,
	}, nil
}

func (a *applier) PaymentResult(ctx context.Context, providerPaymentID string, result *gateway.PaymentResult) error {
	_, err := a.payments.ApplyExternalStatus(ctx, a.provider, providerPaymentID, result)
	return a.swallowUnknown(ctx, err, "payment", providerPaymentID)
}

func (a *applier) SubscriptionState(ctx context.Context, providerSubscriptionID string, result *gateway.SubscriptionResult) error {
	_, err := a.subscriptions.SyncFromProvider(ctx, a.provider, providerSubscriptionID, result)
	return a.swallowUnknown(ctx, err, "subscription", providerSubscriptionID)
}

func (a *applier) RefundNotice(ctx context.Context, providerPaymentID string) error {
	payment, err := a.paymentLookup.FindByProviderPaymentID(ctx, a.provider, providerPaymentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment for refund notice")
	}
	if payment == nil {
		a.logg.Warn(ctx, fmt.Sprintf("refund notice for unknown %s payment %s", a.provider, providerPaymentID))
		return nil
	}

	requests, err := a.refunds.ListByPayment(ctx, payment.ID)
	if err != nil {
		return err
	}
	for _, request := range requests {
		if request.Status != enums.RefundStatusProcessing {
			continue
		}
		if _, err := a.refunds.Recover(ctx, request.ID); err != nil {
			return err
		}
	}
	return nil
}

// swallowUnknown drops lookups that miss: providers replay events for objects
// created before this system owned them.
func (a *applier) swallowUnknown(ctx context.Context, err error, kind, ref string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		a.logg.Warn(ctx, fmt.Sprintf("webhook references unknown %s %s %s", a.provider, kind, ref))
		return nil
	}
	return err
}
