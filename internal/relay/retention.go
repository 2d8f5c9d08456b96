package relay

import (
	"context"
	"time"

	logx "relaybot/pkg/logx"
)

// Retention computes how long relayed copies live.
//
// The expiry is computed exactly once per relay call from a point-in-time
// compliance snapshot and reused for every recipient's copy; later changes
// to the sender's status never alter an already-computed expiry.
type Retention struct {
	Default time.Duration // clean senders
	Flagged time.Duration // senders with warnings or an active ban

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func DefaultRetention() Retention {
	return Retention{Default: 24 * time.Hour, Flagged: 168 * time.Hour}
}

// ExpiresAt returns the copy expiry for one relay call by senderID.
// If the compliance snapshot is unavailable the sender is treated as clean;
// under-retaining beats blocking the fan-out.
func (r Retention) ExpiresAt(ctx context.Context, comp Compliance, senderID int64, log logx.Logger) time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	ttl := r.Default
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	flagged := r.Flagged
	if flagged <= 0 {
		flagged = 168 * time.Hour
	}

	meta, err := comp.UserMeta(ctx, senderID)
	if err != nil {
		log.Warn("compliance snapshot unavailable", logx.Int64("sender", senderID), logx.Err(err))
		return now().Add(ttl)
	}
	if meta.Warnings > 0 || meta.BannedUntil.After(now()) {
		return now().Add(flagged)
	}
	return now().Add(ttl)
}
