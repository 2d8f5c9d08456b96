package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/model"
	"relaybot/internal/quoteindex"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Config tunes the fan-out behavior. All knobs are hot-reloadable via Apply.
type Config struct {
	// AlbumFlushDelay is the quiescence window before an album buffer is
	// flushed. It must exceed the platform's burst-batching window or album
	// tails get chopped into a second group.
	AlbumFlushDelay time.Duration
	// AlbumSafetyWindow force-deletes an album buffer even if flush never
	// fired, bounding memory.
	AlbumSafetyWindow time.Duration
	// PerSendRate throttles outbound sends (messages/sec) across the whole
	// fan-out. Sends are sequential per relay call; this trades fan-out
	// latency for burst-rate safety against the platform's global limit.
	PerSendRate int
	// RetryMax bounds rate-limit retries per send.
	RetryMax int
	// RateLimitJitter is added on top of the platform-reported wait.
	RateLimitJitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.AlbumFlushDelay <= 0 {
		c.AlbumFlushDelay = 3 * time.Second
	}
	if c.AlbumSafetyWindow <= 0 {
		c.AlbumSafetyWindow = time.Minute
	}
	if c.PerSendRate <= 0 {
		c.PerSendRate = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RateLimitJitter <= 0 {
		c.RateLimitJitter = 500 * time.Millisecond
	}
	return c
}

// Relayer fans out one unit (a single message or a collected album) to
// every eligible recipient's private chat.
type Relayer struct {
	out    kit.Outbound
	store  storage.Store
	index  *quoteindex.Index
	dir    Directory
	comp   Compliance
	blocks BlockRelation
	bus    eventbus.Bus
	ret    Retention
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func NewRelayer(cfg Config, out kit.Outbound, store storage.Store, index *quoteindex.Index,
	dir Directory, comp Compliance, blocks BlockRelation, bus eventbus.Bus, log logx.Logger) *Relayer {

	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Relayer{
		out:     out,
		store:   store,
		index:   index,
		dir:     dir,
		comp:    comp,
		blocks:  blocks,
		bus:     bus,
		ret:     DefaultRetention(),
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSendRate), 1),
	}
}

// SetRetention overrides the retention policy (tests, config).
func (r *Relayer) SetRetention(ret Retention) {
	r.mu.Lock()
	r.ret = ret
	r.mu.Unlock()
}

// Apply swaps the fan-out tuning at runtime.
func (r *Relayer) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.limiter = rate.NewLimiter(rate.Limit(cfg.PerSendRate), 1)
	r.mu.Unlock()
}

func (r *Relayer) snapshot() (Config, *rate.Limiter, Retention) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.limiter, r.ret
}

// Relay fans out one single (non-album) item. Per-recipient failures are
// classified and isolated; the returned error covers only setup failures
// (recipient resolution), never delivery.
func (r *Relayer) Relay(ctx context.Context, item model.Item) (Outcome, error) {
	cfg, lim, ret := r.snapshot()

	origin := model.OriginalID{UserID: item.SenderID, MsgID: item.MsgID, ItemMsgID: item.MsgID}
	expiresAt := ret.ExpiresAt(ctx, r.comp, item.SenderID, r.log)
	alias, icon := r.identity(ctx, item.SenderID)
	header := Header(icon, alias)

	replied, hasReply := r.resolveReply(ctx, item.SenderID, item.ReplyTo)

	// Self-referential copy (original-for-original): later reactions and
	// edits in the sender's own chat correlate back to this unit.
	r.persistCopy(ctx, model.Copy{
		RecipientID: item.SenderID,
		MessageID:   item.MsgID,
		Origin:      origin,
		Kind:        item.Kind,
		FileID:      item.FileID,
		Caption:     item.Text,
		ExpiresAt:   expiresAt,
	}, item.Text)

	recips, err := r.eligible(ctx, item.SenderID)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Recipients: len(recips)}
	for _, rcpt := range recips {
		if err := lim.Wait(ctx); err != nil {
			out.fail(rcpt, kit.ErrUnknown, err)
			continue
		}

		replyTo := r.replyTargetFor(ctx, rcpt, replied, hasReply)
		compact := r.dir.CompactLayout(ctx, rcpt)

		ref, err := r.sendItem(ctx, cfg, rcpt, item, header, compact, replyTo)
		if err != nil {
			r.recordFailure(ctx, &out, rcpt, err)
			continue
		}

		r.persistCopy(ctx, model.Copy{
			RecipientID: rcpt,
			MessageID:   ref.MessageID,
			Origin:      origin,
			Kind:        item.Kind,
			FileID:      item.FileID,
			Caption:     renderBody(header, item.Text, compact, false),
			ExpiresAt:   expiresAt,
		}, item.Text)
		out.Sent++
	}

	r.publish(alias, icon, item.Kind, item.Text, "", out)
	return out, nil
}

// sendItem dispatches to the kind-matching primitive. Unsupported kinds
// degrade to a placeholder text notice.
func (r *Relayer) sendItem(ctx context.Context, cfg Config, rcpt int64, item model.Item, header string, compact bool, replyTo int) (kit.MessageRef, error) {
	target := kit.ChatTarget{ChatID: rcpt}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: replyTo}

	var ref kit.MessageRef
	var send func(context.Context, *kit.SendOptions) error

	switch item.Kind {
	case kit.KindText:
		body := renderBody(header, item.Text, compact, false)
		send = func(ctx context.Context, o *kit.SendOptions) error {
			var err error
			ref, err = r.out.SendText(ctx, target, body, o)
			return err
		}
	case kit.KindPhoto, kit.KindVideo, kit.KindAudio, kit.KindVoice, kit.KindAnimation, kit.KindDocument:
		p := kit.Payload{Kind: item.Kind, FileID: item.FileID, Caption: renderBody(header, item.Text, compact, false)}
		send = func(ctx context.Context, o *kit.SendOptions) error {
			var err error
			ref, err = r.out.SendMedia(ctx, target, p, o)
			return err
		}
	case kit.KindSticker:
		// Stickers carry no caption; they go out as-is.
		p := kit.Payload{Kind: item.Kind, FileID: item.FileID}
		send = func(ctx context.Context, o *kit.SendOptions) error {
			var err error
			ref, err = r.out.SendMedia(ctx, target, p, o)
			return err
		}
	default:
		body := renderBody(header, "[unsupported message]", compact, false)
		send = func(ctx context.Context, o *kit.SendOptions) error {
			var err error
			ref, err = r.out.SendText(ctx, target, body, o)
			return err
		}
	}

	err := SendWithRetry(ctx, opt, cfg.RetryMax, cfg.RateLimitJitter, r.log, send)
	return ref, err
}

// eligible computes the recipient set for one relay call: lobby membership
// minus the sender minus everyone who has blocked the sender.
func (r *Relayer) eligible(ctx context.Context, senderID int64) ([]int64, error) {
	members, err := r.dir.LobbyUsers(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]int64, 0, len(members))
	for _, id := range members {
		if id != senderID {
			candidates = append(candidates, id)
		}
	}
	blocked, err := r.blocks.BlockedBy(ctx, candidates, senderID)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if !blocked[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// resolveReply maps the sender's reply-to message (in their own chat) to
// the original identity it targets. A miss just drops the linkage.
func (r *Relayer) resolveReply(ctx context.Context, senderID int64, replyTo int) (model.OriginalID, bool) {
	if replyTo == 0 {
		return model.OriginalID{}, false
	}
	origin, ok, err := r.index.ResolveOriginal(ctx, senderID, replyTo)
	if err != nil {
		r.log.Warn("reply resolution failed", logx.Int64("sender", senderID), logx.Int("reply_to", replyTo), logx.Err(err))
		return model.OriginalID{}, false
	}
	return origin, ok
}

// replyTargetFor personalizes the reply target: the replied-to author gets
// their own original message id; everyone else gets their locally-relayed
// copy id. 0 when no linkage can be resolved.
func (r *Relayer) replyTargetFor(ctx context.Context, recipientID int64, replied model.OriginalID, hasReply bool) int {
	if !hasReply {
		return 0
	}
	if recipientID == replied.UserID {
		return replied.ItemMsgID
	}
	id, ok, err := r.index.FindRelayedID(ctx, recipientID, replied)
	if err != nil {
		r.log.Warn("relayed-id lookup failed", logx.Int64("recipient", recipientID), logx.Err(err))
		return 0
	}
	if !ok {
		return 0
	}
	return id
}

func (r *Relayer) persistCopy(ctx context.Context, c model.Copy, previewText string) {
	if c.RelayedAt.IsZero() {
		c.RelayedAt = time.Now()
	}
	if err := r.store.CreateCopy(ctx, c); err != nil {
		r.log.Error("copy persist failed", logx.Int64("recipient", c.RecipientID), logx.Int("message_id", c.MessageID), logx.Err(err))
		return
	}
	r.index.Link(ctx, c.RecipientID, c.MessageID, c.Origin, preview(previewText))
}

func (r *Relayer) recordFailure(ctx context.Context, out *Outcome, recipientID int64, err error) {
	class := kit.ClassOf(err)
	out.fail(recipientID, class, err)
	switch class {
	case kit.ErrBlocked:
		if merr := r.blocks.MarkBlocked(ctx, recipientID); merr != nil {
			r.log.Warn("block mark failed", logx.Int64("recipient", recipientID), logx.Err(merr))
		}
		r.log.Info("recipient blocked delivery", logx.Int64("recipient", recipientID))
	case kit.ErrUnknown:
		r.log.Error("send failed (unclassified)", logx.Int64("recipient", recipientID), logx.Err(err))
	default:
		r.log.Warn("send failed", logx.Int64("recipient", recipientID), logx.String("class", string(class)), logx.Err(err))
	}
}

func (r *Relayer) identity(ctx context.Context, id int64) (alias, icon string) {
	alias, err := r.dir.Alias(ctx, id)
	if err != nil || alias == "" {
		alias = "Anonymous"
	}
	icon, err = r.dir.Icon(ctx, id)
	if err != nil {
		icon = ""
	}
	return alias, icon
}

func (r *Relayer) publish(alias, icon string, kind kit.Kind, text, albumID string, out Outcome) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.EventRelayed,
		Data: MessageView{
			Alias:      alias,
			Icon:       icon,
			Kind:       string(kind),
			Text:       text,
			AlbumID:    albumID,
			Recipients: out.Recipients,
			Sent:       out.Sent,
			Failed:     len(out.Failures),
			At:         time.Now(),
		},
	})
}
