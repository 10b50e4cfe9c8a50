// Package webhooks deduplicates gateway webhook deliveries before they reach reconciliation.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/vendorhub-backend/pkg/redis"
)

// Guard marks webhook deliveries as seen. A delivery is identified by its gateway and a digest
// of the raw body, so gateway retries of the same notification collapse.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// DeliveryID derives a stable id for a raw webhook body.
func DeliveryID(gateway string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return gateway + ":" + hex.EncodeToString(sum[:])
}

// CheckAndMark reports whether the delivery was already seen, marking it otherwise.
func (g *Guard) CheckAndMark(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	key := g.store.IdempotencyKey(g.scope, deliveryID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release forgets a delivery so a gateway retry is processed again.
func (g *Guard) Release(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, deliveryID))
}
