package paystackwebhook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

const guardScope = "paystack_webhook"

// ClaimStore is the once-only primitive backing the guard.
type ClaimStore interface {
	Claim(ctx context.Context, scope, id string, ttl time.Duration) (bool, error)
	Unclaim(ctx context.Context, scope, id string) error
}

// DeliveryGuard short-circuits exact redeliveries of a webhook body.
type DeliveryGuard struct {
	store ClaimStore
	ttl   time.Duration
	scope string
}

func NewDeliveryGuard(store ClaimStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("claim store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &DeliveryGuard{store: store, ttl: ttl, scope: guardScope}, nil
}

// Claim reports whether the body was already claimed by an earlier delivery.
func (g *DeliveryGuard) Claim(ctx context.Context, body []byte) (duplicate bool, key string, err error) {
	key = bodyKey(body)
	claimed, err := g.store.Claim(ctx, g.scope, key, g.ttl)
	if err != nil {
		return false, key, fmt.Errorf("claim webhook delivery: %w", err)
	}
	return !claimed, key, nil
}

// Release drops a claim so Paystack's retry is processed.
func (g *DeliveryGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery key is required")
	}
	return g.store.Unclaim(ctx, g.scope, key)
}

func bodyKey(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
