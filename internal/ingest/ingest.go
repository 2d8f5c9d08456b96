// Package ingest bridges raw telebot updates into the relay core.
//
// It is deliberately thin: no command parsing, no permission checks, no
// content filtering. Those live upstream; anything reaching the dispatcher
// is treated as already approved.
package ingest

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/model"
	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Attach registers the message and edit hooks on the bot.
func Attach(b *tele.Bot, d *relay.Dispatcher, p *relay.Propagator, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}

	handle := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil || m.Chat.Type != tele.ChatPrivate {
			return nil
		}
		item, ok := itemFromMessage(m)
		if !ok {
			return nil
		}
		if _, err := d.Dispatch(context.Background(), item); err != nil {
			log.Error("dispatch failed", logx.Int64("sender", item.SenderID), logx.Err(err))
		}
		return nil
	}

	for _, ev := range []string{
		tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnAudio, tele.OnVoice,
		tele.OnAnimation, tele.OnDocument, tele.OnSticker,
	} {
		b.Handle(ev, handle)
	}

	b.Handle(tele.OnEdited, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil || m.Chat.Type != tele.ChatPrivate {
			return nil
		}
		edit := model.Edit{SenderID: m.Sender.ID, MsgID: m.ID, Kind: kindOf(m)}
		if m.Text != "" {
			edit.Text = m.Text
		} else {
			edit.Text = m.Caption
		}
		if _, err := p.PropagateEdit(context.Background(), edit); err != nil {
			log.Error("edit propagation failed", logx.Int64("sender", m.Sender.ID), logx.Err(err))
		}
		return nil
	})
}

func itemFromMessage(m *tele.Message) (model.Item, bool) {
	item := model.Item{
		SenderID: m.Sender.ID,
		MsgID:    m.ID,
		AlbumID:  m.AlbumID,
		Kind:     kindOf(m),
	}
	if m.ReplyTo != nil {
		item.ReplyTo = m.ReplyTo.ID
	}

	switch item.Kind {
	case kit.KindText:
		item.Text = m.Text
	case kit.KindPhoto:
		item.FileID, item.Text = m.Photo.FileID, m.Caption
	case kit.KindVideo:
		item.FileID, item.Text = m.Video.FileID, m.Caption
	case kit.KindAudio:
		item.FileID, item.Text = m.Audio.FileID, m.Caption
	case kit.KindVoice:
		item.FileID, item.Text = m.Voice.FileID, m.Caption
	case kit.KindAnimation:
		item.FileID, item.Text = m.Animation.FileID, m.Caption
	case kit.KindDocument:
		item.FileID, item.Text = m.Document.FileID, m.Caption
	case kit.KindSticker:
		item.FileID = m.Sticker.FileID
	default:
		return model.Item{}, false
	}
	return item, true
}

func kindOf(m *tele.Message) kit.Kind {
	switch {
	case m.Text != "":
		return kit.KindText
	case m.Photo != nil:
		return kit.KindPhoto
	case m.Video != nil:
		return kit.KindVideo
	case m.Audio != nil:
		return kit.KindAudio
	case m.Voice != nil:
		return kit.KindVoice
	case m.Animation != nil:
		return kit.KindAnimation
	case m.Document != nil:
		return kit.KindDocument
	case m.Sticker != nil:
		return kit.KindSticker
	default:
		return kit.Kind("unknown")
	}
}
