package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/vidorahq/vidora-billing/internal/gateway"
	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

// Processor verifies, deduplicates, applies, and records provider webhook
// deliveries. A nil return means the delivery may be acknowledged with 2xx.
type Processor interface {
	Process(ctx context.Context, provider enums.Provider, payload []byte, signatureHeader string) error
}

// ProcessorParams groups processor dependencies. Appliers and Translators are
// keyed by provider; a provider missing from either map is rejected.
type ProcessorParams struct {
	Router      *gateway.Router
	Guard       *IdempotencyGuard
	Repo        Repository
	Appliers    map[enums.Provider]Applier
	Translators map[enums.Provider]Translator
	Logger      *logger.Logger
}

type processor struct {
	router      *gateway.Router
	guard       *IdempotencyGuard
	repo        Repository
	appliers    map[enums.Provider]Applier
	translators map[enums.Provider]Translator
	logg        *logger.Logger
}

// NewProcessor builds the webhook processor.
func NewProcessor(params ProcessorParams) (Processor, error) {
	if params.Router == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("webhook event repo required")
	}
	if len(params.Appliers) == 0 {
		return nil, fmt.Errorf("at least one applier required")
	}
	if len(params.Translators) == 0 {
		return nil, fmt.Errorf("at least one translator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &processor{
		router:      params.Router,
		guard:       params.Guard,
		repo:        params.Repo,
		appliers:    params.Appliers,
		translators: params.Translators,
		logg:        params.Logger,
	}, nil
}

// Process runs one delivery end to end.
//
// The redis mark is claimed before any state changes and released on failure
// so the provider's retry is not locked out. The durable webhook_events row
// is written after the event applied: every transition the appliers make is
// CAS forward-only, so a crash between apply and record just makes the retry
// a no-op pass over already-settled state.
func (p *processor) Process(ctx context.Context, provider enums.Provider, payload []byte, signatureHeader string) error {
	translator, ok := p.translators[provider]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("no webhook translator for provider %s", provider))
	}
	applier, ok := p.appliers[provider]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("no webhook applier for provider %s", provider))
	}

	adapter, err := p.router.Adapter(provider)
	if err != nil {
		return gateway.Coded(err)
	}
	if err := adapter.VerifyWebhookSignature(payload, signatureHeader); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook signature rejected")
	}

	event, err := translator(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook payload")
	}
	if event.ProviderEventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook payload carries no event id")
	}

	ctx = p.logg.WithProvider(ctx, provider.String())
	guardID := event.ProviderEventID

	duplicate, err := p.guard.CheckAndMark(ctx, guardID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check")
	}
	if duplicate {
		p.logg.Info(ctx, fmt.Sprintf("duplicate webhook delivery %s ignored", event.ProviderEventID))
		return nil
	}

	if event.Apply != nil {
		if err := event.Apply(ctx, applier); err != nil {
			p.releaseMark(ctx, guardID)
			return err
		}
	}

	recorded, err := p.repo.Record(ctx, &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		Payload:         event.Payload,
		ProcessedAt:     time.Now().UTC(),
	})
	if err != nil {
		p.releaseMark(ctx, guardID)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording webhook event")
	}
	if !recorded {
		// A concurrent delivery beat us to the row; its work was identical.
		p.logg.Info(ctx, fmt.Sprintf("webhook delivery %s already recorded", event.ProviderEventID))
		return nil
	}

	p.logg.Info(ctx, fmt.Sprintf("webhook %s %s processed", event.EventType, event.ProviderEventID))
	return nil
}

func (p *processor) releaseMark(ctx context.Context, guardID string) {
	if err := p.guard.Delete(context.WithoutCancel(ctx), guardID); err != nil {
		p.logg.Warn(ctx, "failed to release webhook idempotency mark")
	}
}
