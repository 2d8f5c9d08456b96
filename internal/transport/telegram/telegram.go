// Package telegram adapts gopkg.in/telebot.v4 to the transport.Outbound
// surface. It is the only package that knows telebot types; everything
// above it sees classified *transport.SendError values.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		// Handlers run on the poller goroutine. Media-group items arrive
		// as a burst of separate updates and must reach the coalescer in
		// submission order.
		Synchronous: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance so the ingestion handler can
// register its update hooks. The relay core itself never touches it.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, p kit.Payload, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	what, err := inputtable(p)
	if err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.Payload, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	album := make(tele.Album, 0, len(items))
	for _, p := range items {
		in, err := inputtable(p)
		if err != nil {
			return nil, err
		}
		item, ok := in.(tele.Inputtable)
		if !ok {
			return nil, errors.New("media kind not allowed in album: " + string(p.Kind))
		}
		album = append(album, item)
	}
	msgs, err := a.bot.SendAlbum(&tele.Chat{ID: to.ChatID}, album, sendOptions(opt))
	if err != nil {
		return nil, classify(err)
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID})
	}
	return refs, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	if _, err := a.bot.Edit(stored, text, sendOptions(opt)); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) EditCaption(ctx context.Context, ref kit.MessageRef, caption string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	if _, err := a.bot.EditCaption(stored, caption, sendOptions(opt)); err != nil {
		return classify(err)
	}
	return nil
}

func inputtable(p kit.Payload) (tele.Media, error) {
	f := tele.File{FileID: p.FileID}
	switch p.Kind {
	case kit.KindPhoto:
		return &tele.Photo{File: f, Caption: p.Caption}, nil
	case kit.KindVideo:
		return &tele.Video{File: f, Caption: p.Caption}, nil
	case kit.KindAudio:
		return &tele.Audio{File: f, Caption: p.Caption}, nil
	case kit.KindVoice:
		return &tele.Voice{File: f, Caption: p.Caption}, nil
	case kit.KindAnimation:
		return &tele.Animation{File: f, Caption: p.Caption}, nil
	case kit.KindDocument:
		return &tele.Document{File: f, Caption: p.Caption}, nil
	case kit.KindSticker:
		return &tele.Sticker{File: f}, nil
	default:
		return nil, errors.New("unsupported media kind: " + string(p.Kind))
	}
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
	}
	return so
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// classify maps telebot errors onto the transport taxonomy. Anything we
// cannot bucket stays ErrUnknown with the original error preserved.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.SendError{
			Class:      kit.ErrRateLimited,
			Code:       429,
			RetryAfter: time.Duration(fe.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		desc := strings.ToLower(te.Description)
		switch {
		case te.Code == 403:
			// "bot was blocked by the user", "user is deactivated",
			// "bot can't initiate conversation" all mean the same to us.
			return &kit.SendError{Class: kit.ErrBlocked, Code: te.Code, Err: err}
		case strings.Contains(desc, "repl") && strings.Contains(desc, "not found"):
			// "message to reply not found" / "replied message not found"
			return &kit.SendError{Class: kit.ErrBadReplyTarget, Code: te.Code, Err: err}
		case strings.Contains(desc, "not found"):
			return &kit.SendError{Class: kit.ErrNotFound, Code: te.Code, Err: err}
		case te.Code == 413 || strings.Contains(desc, "too large") || strings.Contains(desc, "too big"):
			return &kit.SendError{Class: kit.ErrTooLarge, Code: te.Code, Err: err}
		default:
			return &kit.SendError{Class: kit.ErrUnknown, Code: te.Code, Err: err}
		}
	}

	return &kit.SendError{Class: kit.ErrUnknown, Err: err}
}
