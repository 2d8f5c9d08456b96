package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaybot/internal/model"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type bufState int

const (
	bufCollecting bufState = iota
	bufFlushScheduled
	bufFlushed
	bufDiscarded
)

// albumBuffer accumulates the items of one media group while the platform
// is still delivering them. Sender identity and the reply target are
// captured while collecting; the recipient set is not (it is recomputed at
// flush time). Items are kept in arrival order and re-sorted by message id
// at flush, so delivery order never depends on arrival order.
type albumBuffer struct {
	albumID  string
	senderID int64
	alias    string
	icon     string
	replied  model.OriginalID
	hasReply bool
	items    []model.Item
	state    bufState

	flushTimer  *time.Timer
	safetyTimer *time.Timer
}

// Coalescer buffers items sharing an album id, waits for quiescence, and
// fans the collected group out as one grouped send per recipient.
//
// The buffer registry is an explicit state-holder constructed at process
// start, not a package-level map.
type Coalescer struct {
	relayer *Relayer
	log     logx.Logger

	mu   sync.Mutex
	bufs map[string]*albumBuffer
}

func NewCoalescer(relayer *Relayer, log logx.Logger) *Coalescer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coalescer{relayer: relayer, log: log, bufs: map[string]*albumBuffer{}}
}

// Add routes one album item into its buffer, creating the buffer on the
// first item to arrive. Only the first append schedules the flush timer.
//
// Arrival order is not trusted: even if a later item creates the buffer,
// the reply linkage is adopted from whichever sibling carries one, and
// flush re-sorts the items by message id.
func (c *Coalescer) Add(ctx context.Context, item model.Item) {
	cfg, _, _ := c.relayer.snapshot()

	c.mu.Lock()
	if buf, ok := c.bufs[item.AlbumID]; ok && (item.ReplyTo == 0 || buf.hasReply) {
		c.appendLocked(buf, item, cfg.AlbumFlushDelay)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// First item to arrive, or a sibling carrying the album's reply
	// linkage: resolve identity and reply target outside the lock (both
	// hit collaborators).
	alias, icon := c.relayer.identity(ctx, item.SenderID)
	replied, hasReply := c.relayer.resolveReply(ctx, item.SenderID, item.ReplyTo)

	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.bufs[item.AlbumID]; ok {
		c.appendLocked(buf, item, cfg.AlbumFlushDelay)
		if hasReply && !buf.hasReply {
			buf.replied, buf.hasReply = replied, true
		}
		return
	}
	buf := &albumBuffer{
		albumID:  item.AlbumID,
		senderID: item.SenderID,
		alias:    alias,
		icon:     icon,
		replied:  replied,
		hasReply: hasReply,
		items:    []model.Item{item},
		state:    bufCollecting,
	}
	albumID := item.AlbumID
	// Unconditional memory bound: the buffer dies after the safety window
	// even if flush never fires.
	buf.safetyTimer = time.AfterFunc(cfg.AlbumSafetyWindow, func() { c.discard(albumID) })
	c.bufs[albumID] = buf
}

func (c *Coalescer) appendLocked(buf *albumBuffer, item model.Item, delay time.Duration) {
	buf.items = append(buf.items, item)
	if buf.state == bufCollecting {
		buf.state = bufFlushScheduled
		albumID := buf.albumID
		buf.flushTimer = time.AfterFunc(delay, func() { c.Flush(albumID) })
	}
}

// Flush delivers the buffered album now. Safe to call any number of times
// and concurrently with the safety timer; the buffer is processed at most
// once.
func (c *Coalescer) Flush(albumID string) {
	buf := c.take(albumID, bufFlushed)
	if buf == nil {
		return
	}
	// Timer goroutine: no parent call to inherit a context from, and a
	// started fan-out runs to completion per recipient anyway.
	out := c.relayer.relayAlbum(context.Background(), buf)
	c.log.Info("album flushed",
		logx.String("album", albumID),
		logx.Int("items", len(buf.items)),
		logx.Int("recipients", out.Recipients),
		logx.Int("sent", out.Sent),
		logx.Int("failed", len(out.Failures)))
}

func (c *Coalescer) discard(albumID string) {
	buf := c.take(albumID, bufDiscarded)
	if buf == nil {
		return
	}
	c.log.Warn("album discarded by safety window",
		logx.String("album", albumID),
		logx.Int("items", len(buf.items)))
}

// take removes the buffer if it is still present and marks its terminal
// state. The delete-if-present guard is what makes the flush-vs-safety
// timer race benign.
func (c *Coalescer) take(albumID string, next bufState) *albumBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.bufs[albumID]
	if !ok {
		return nil
	}
	delete(c.bufs, albumID)
	if buf.flushTimer != nil {
		buf.flushTimer.Stop()
	}
	if buf.safetyTimer != nil {
		buf.safetyTimer.Stop()
	}
	buf.state = next
	return buf
}

// Pending reports how many buffers are collecting (operational visibility).
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bufs)
}

// relayAlbum fans out one collected album. One grouped send per recipient;
// one recipient's failure never aborts the album for the others.
func (r *Relayer) relayAlbum(ctx context.Context, b *albumBuffer) Outcome {
	if len(b.items) == 0 {
		return Outcome{}
	}
	cfg, lim, ret := r.snapshot()

	// Submission order, regardless of how the updates arrived. Message ids
	// are monotonic within one sender's chat.
	sort.Slice(b.items, func(i, j int) bool { return b.items[i].MsgID < b.items[j].MsgID })

	anchor := b.items[0].MsgID
	expiresAt := ret.ExpiresAt(ctx, r.comp, b.senderID, r.log)
	header := Header(b.icon, b.alias)

	// Self copies, one per item, anchored at the first item.
	for _, it := range b.items {
		r.persistCopy(ctx, model.Copy{
			RecipientID: b.senderID,
			MessageID:   it.MsgID,
			Origin:      model.OriginalID{UserID: b.senderID, MsgID: anchor, ItemMsgID: it.MsgID},
			Kind:        it.Kind,
			FileID:      it.FileID,
			Caption:     it.Text,
			AlbumID:     b.albumID,
			ExpiresAt:   expiresAt,
		}, it.Text)
	}

	// Recipient set is recomputed here, at flush time; the reply target
	// stays as captured at buffer creation. Late joiners get delivery but
	// never influence the already-resolved target.
	recips, err := r.eligible(ctx, b.senderID)
	if err != nil {
		r.log.Error("album recipient resolution failed", logx.String("album", b.albumID), logx.Err(err))
		return Outcome{}
	}

	out := Outcome{Recipients: len(recips)}
	for _, rcpt := range recips {
		if err := lim.Wait(ctx); err != nil {
			out.fail(rcpt, kit.ErrUnknown, err)
			continue
		}

		replyTo := r.replyTargetFor(ctx, rcpt, b.replied, b.hasReply)
		compact := r.dir.CompactLayout(ctx, rcpt)

		payloads := make([]kit.Payload, 0, len(b.items))
		for i, it := range b.items {
			caption := ""
			if i == 0 {
				// The header rides on the first item's caption.
				caption = renderBody(header, it.Text, compact, false)
			} else if it.Text != "" {
				caption = escapeText(it.Text)
			}
			payloads = append(payloads, kit.Payload{Kind: it.Kind, FileID: it.FileID, Caption: caption})
		}

		var refs []kit.MessageRef
		opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: replyTo}
		err := SendWithRetry(ctx, opt, cfg.RetryMax, cfg.RateLimitJitter, r.log, func(ctx context.Context, o *kit.SendOptions) error {
			var e error
			refs, e = r.out.SendAlbum(ctx, kit.ChatTarget{ChatID: rcpt}, payloads, o)
			return e
		})
		if err != nil {
			r.recordFailure(ctx, &out, rcpt, err)
			continue
		}

		for i, ref := range refs {
			if i >= len(b.items) {
				break
			}
			it := b.items[i]
			r.persistCopy(ctx, model.Copy{
				RecipientID: rcpt,
				MessageID:   ref.MessageID,
				Origin:      model.OriginalID{UserID: b.senderID, MsgID: anchor, ItemMsgID: it.MsgID},
				Kind:        it.Kind,
				FileID:      it.FileID,
				Caption:     payloads[i].Caption,
				AlbumID:     b.albumID,
				ExpiresAt:   expiresAt,
			}, it.Text)
		}
		out.Sent++
	}

	r.publish(b.alias, b.icon, b.items[0].Kind, b.items[0].Text, b.albumID, out)
	return out
}
