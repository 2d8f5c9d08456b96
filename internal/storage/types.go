package storage

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/model"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the durable copy store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the durable RelayedCopy persistence API.
//
// It is the source of truth for reply resolution once the ephemeral
// quote-link index has expired, and the target of the retention sweep.
type Store interface {
	// CreateCopy inserts one (recipient, item) record. Re-relaying the same
	// (recipient, message) pair overwrites the previous record.
	CreateCopy(ctx context.Context, c model.Copy) error

	// CopiesByAnchor returns every live copy of the unit anchored at
	// (senderID, anchorMsgID), the sender's own self-referential copy included.
	CopiesByAnchor(ctx context.Context, senderID int64, anchorMsgID int) ([]model.Copy, error)

	// CopyByMessage resolves a message id in a recipient's chat back to its
	// copy record. Expired copies are not returned.
	CopyByMessage(ctx context.Context, recipientID int64, messageID int) (model.Copy, bool, error)

	// FindRelayed returns the copy of origin delivered to recipientID,
	// preferring an item-level match over a group-level (anchor) match and
	// the most recently relayed record within each.
	FindRelayed(ctx context.Context, recipientID int64, origin model.OriginalID) (model.Copy, bool, error)

	// UpdateCaption rewrites the stored caption of one copy.
	UpdateCaption(ctx context.Context, recipientID int64, messageID int, caption string) error

	// DeleteExpired removes copies whose TTL elapsed before now and reports
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}
