package quoteindex

import (
	"context"
	"strconv"
	"time"

	"relaybot/internal/model"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Index is the reply-link resolver used by the relayer, coalescer, and the
// ingestion handler.
type Index struct {
	eph    Store
	copies storage.Store
	ttl    time.Duration
	log    logx.Logger
}

func New(eph Store, copies storage.Store, ttl time.Duration, log logx.Logger) *Index {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Index{eph: eph, copies: copies, ttl: ttl, log: log}
}

func key(recipientID int64, relayedID int) string {
	return strconv.FormatInt(recipientID, 10) + ":" + strconv.Itoa(relayedID)
}

// Link records that relayedID in recipientID's chat is a copy of origin.
// Re-linking the same id refreshes the entry; the latest link wins.
func (x *Index) Link(ctx context.Context, recipientID int64, relayedID int, origin model.OriginalID, preview string) {
	e := Entry{Origin: origin, RecipientID: recipientID, Preview: preview, CreatedAt: time.Now()}
	if err := x.eph.Put(ctx, key(recipientID, relayedID), e, x.ttl); err != nil {
		// The durable store still resolves the link; losing the hot entry
		// only costs a lookup.
		x.log.Warn("quote link put failed", logx.Int64("recipient", recipientID), logx.Int("relayed_id", relayedID), logx.Err(err))
	}
}

// Resolve maps a relayed message id back to its original identity using the
// ephemeral tier only.
func (x *Index) Resolve(ctx context.Context, recipientID int64, relayedID int) (model.OriginalID, bool) {
	e, ok, err := x.eph.Get(ctx, key(recipientID, relayedID))
	if err != nil {
		x.log.Warn("quote link get failed", logx.Int64("recipient", recipientID), logx.Int("relayed_id", relayedID), logx.Err(err))
		return model.OriginalID{}, false
	}
	if !ok {
		return model.OriginalID{}, false
	}
	return e.Origin, true
}

// ResolveOriginal resolves what identity a reply targets: the ephemeral
// tier first, then the durable copy store once the hot entry has expired.
// The reply window is therefore bounded only by the copy's own TTL.
func (x *Index) ResolveOriginal(ctx context.Context, replierID int64, repliedToID int) (model.OriginalID, bool, error) {
	if origin, ok := x.Resolve(ctx, replierID, repliedToID); ok {
		return origin, true, nil
	}
	c, ok, err := x.copies.CopyByMessage(ctx, replierID, repliedToID)
	if err != nil || !ok {
		return model.OriginalID{}, false, err
	}
	return c.Origin, true, nil
}

// FindRelayedID returns the message id of origin's copy in recipientID's
// chat. Item-level matches are preferred over group-level matches; among
// candidates the most recently relayed wins.
func (x *Index) FindRelayedID(ctx context.Context, recipientID int64, origin model.OriginalID) (int, bool, error) {
	c, ok, err := x.copies.FindRelayed(ctx, recipientID, origin)
	if err != nil || !ok {
		return 0, false, err
	}
	return c.MessageID, true, nil
}
