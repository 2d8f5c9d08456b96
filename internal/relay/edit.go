package relay

import (
	"context"
	"strings"

	"relaybot/internal/model"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Propagator applies a sender's edit to every previously relayed copy of
// the edited item.
type Propagator struct {
	out   kit.Outbound
	store storage.Store
	dir   Directory
	log   logx.Logger
}

func NewPropagator(out kit.Outbound, store storage.Store, dir Directory, log logx.Logger) *Propagator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Propagator{out: out, store: store, dir: dir, log: log}
}

// EditOutcome counts per-copy edit results.
type EditOutcome struct {
	Copies   int
	Edited   int
	Failures []Failure
}

// PropagateEdit re-renders and republishes the edited content on every
// relayed copy of the item. No-ops: a unit with no copies (e.g. a private
// message) and payload kinds that carry no editable text. Per-copy
// failures are classified and isolated, never retried as a batch.
func (p *Propagator) PropagateEdit(ctx context.Context, e model.Edit) (EditOutcome, error) {
	if !e.Kind.Editable() || strings.TrimSpace(e.Text) == "" {
		return EditOutcome{}, nil
	}

	// The edited message may be an album item; its self copy carries the
	// anchor and item ids the recipient copies were stored under.
	self, ok, err := p.store.CopyByMessage(ctx, e.SenderID, e.MsgID)
	if err != nil {
		return EditOutcome{}, err
	}
	if !ok {
		return EditOutcome{}, nil
	}

	copies, err := p.store.CopiesByAnchor(ctx, e.SenderID, self.Origin.MsgID)
	if err != nil {
		return EditOutcome{}, err
	}

	alias, icon := p.identity(ctx, e.SenderID)
	header := Header(icon, alias)

	var out EditOutcome
	for _, c := range copies {
		// The sender's own message is theirs to edit; only the relayed
		// copies of the edited item are rewritten.
		if c.RecipientID == e.SenderID || c.Origin.ItemMsgID != self.Origin.ItemMsgID {
			continue
		}
		if !c.Kind.Editable() {
			continue
		}
		out.Copies++

		compact := p.dir.CompactLayout(ctx, c.RecipientID)
		body := renderBody(header, e.Text, compact, true)
		ref := kit.MessageRef{ChatID: c.RecipientID, MessageID: c.MessageID}
		opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

		var eerr error
		if c.Kind == kit.KindText {
			eerr = p.out.EditText(ctx, ref, body, opt)
		} else {
			eerr = p.out.EditCaption(ctx, ref, body, opt)
		}
		if eerr != nil {
			class := kit.ClassOf(eerr)
			out.Failures = append(out.Failures, Failure{RecipientID: c.RecipientID, Class: class, Err: eerr})
			p.log.Warn("edit propagation failed",
				logx.Int64("recipient", c.RecipientID),
				logx.Int("message_id", c.MessageID),
				logx.String("class", string(class)),
				logx.Err(eerr))
			continue
		}

		if uerr := p.store.UpdateCaption(ctx, c.RecipientID, c.MessageID, body); uerr != nil {
			p.log.Error("caption update failed", logx.Int64("recipient", c.RecipientID), logx.Int("message_id", c.MessageID), logx.Err(uerr))
		}
		out.Edited++
	}
	return out, nil
}

func (p *Propagator) identity(ctx context.Context, id int64) (alias, icon string) {
	alias, err := p.dir.Alias(ctx, id)
	if err != nil || alias == "" {
		alias = "Anonymous"
	}
	icon, err = p.dir.Icon(ctx, id)
	if err != nil {
		icon = ""
	}
	return alias, icon
}
