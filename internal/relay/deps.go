package relay

import (
	"context"
	"time"
)

// Directory is the lobby membership and identity surface. Aliases and icons
// are the anonymized sender identity; real user ids never leave the core.
type Directory interface {
	// LobbyUsers returns the ids of everyone currently participating.
	LobbyUsers(ctx context.Context) ([]int64, error)
	Alias(ctx context.Context, id int64) (string, error)
	Icon(ctx context.Context, id int64) (string, error)
	Role(ctx context.Context, id int64) (string, error)
	// CompactLayout reports the recipient's display preference: no blank
	// line between the sender header and the body.
	CompactLayout(ctx context.Context, id int64) bool
}

// UserMeta is the point-in-time compliance snapshot used for retention.
type UserMeta struct {
	Warnings    int
	BannedUntil time.Time
}

type Compliance interface {
	UserMeta(ctx context.Context, id int64) (UserMeta, error)
}

// BlockRelation answers "who among these candidates has blocked sender X"
// and records transport-level blocks discovered during delivery.
type BlockRelation interface {
	BlockedBy(ctx context.Context, candidates []int64, senderID int64) (map[int64]bool, error)
	// MarkBlocked records that recipientID refuses delivery entirely (the
	// platform rejected the send with a blocked error), so future relays
	// can skip them cheaply.
	MarkBlocked(ctx context.Context, recipientID int64) error
}
