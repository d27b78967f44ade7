package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidorahq/vidora-billing/pkg/redis"
)

// defaultGuardTTL keeps the fast-path mark long enough to absorb provider
// retry storms; the webhook_events table is the durable record behind it.
const defaultGuardTTL = 48 * time.Hour

// IdempotencyGuard short-circuits duplicate webhook deliveries through a
// redis SetNX mark before any database work happens.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, scope string, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark claims the event id. It returns true when another delivery
// already holds the mark.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("marking webhook event: %w", err)
	}
	return !set, nil
}

// Delete releases the mark so a failed delivery can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
