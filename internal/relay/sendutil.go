package relay

import (
	"context"
	"time"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// SendWithRetry is the sole outbound send path.
//
// Policy, by error class:
//   - RateLimited: sleep the platform-reported wait plus a fixed jitter,
//     then retry, bounded by maxRetries.
//   - BadReplyTarget, when a reply target was set: retry exactly once with
//     the target stripped. The copy goes out without reply linkage instead
//     of failing outright.
//   - Anything else: propagate immediately. No blind retries.
//
// send is invoked with a private copy of opt, so stripping the reply target
// never mutates the caller's options.
func SendWithRetry(ctx context.Context, opt *kit.SendOptions, maxRetries int, jitter time.Duration, log logx.Logger, send func(context.Context, *kit.SendOptions) error) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	cur := *opt
	if maxRetries < 0 {
		maxRetries = 0
	}

	strippedReply := false
	rateRetries := 0
	for {
		err := send(ctx, &cur)
		if err == nil {
			return nil
		}

		switch kit.ClassOf(err) {
		case kit.ErrRateLimited:
			if rateRetries >= maxRetries {
				return err
			}
			rateRetries++
			wait := kit.RetryAfterOf(err) + jitter
			log.Debug("rate limited, retrying", logx.Duration("wait", wait), logx.Int("attempt", rateRetries))
			if err := sleep(ctx, wait); err != nil {
				return err
			}

		case kit.ErrBadReplyTarget:
			if cur.ReplyTo == 0 || strippedReply {
				return err
			}
			// Stale reply target: drop the linkage, keep the message.
			strippedReply = true
			log.Debug("stale reply target, resending without linkage", logx.Int("reply_to", cur.ReplyTo))
			cur.ReplyTo = 0

		default:
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
