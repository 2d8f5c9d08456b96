// Package quoteindex resolves reply targets across relayed copies.
//
// It is two-tier: a small ephemeral TTL store (redis or in-memory) keyed by
// the relayed message id, backed by the durable copy store once the
// ephemeral entry has expired. The ephemeral tier is a hot-path shortcut,
// never the source of truth.
package quoteindex

import (
	"context"
	"time"

	"relaybot/internal/model"
)

// Entry is one ephemeral quote-link pointer.
type Entry struct {
	Origin      model.OriginalID `json:"origin"`
	RecipientID int64            `json:"recipient_id"`
	Preview     string           `json:"preview,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Store is the ephemeral tier. Put overwrites by key (re-links refresh, they
// do not append); entries vanish on their own after ttl.
type Store interface {
	Put(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Get(ctx context.Context, key string) (Entry, bool, error)
	Close() error
}

type Config struct {
	RedisURL string
	TTL      time.Duration
}

const defaultTTL = 10 * time.Minute
