package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the payload type of a relayed item.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindAnimation Kind = "animation"
	KindDocument  Kind = "document"
	KindSticker   Kind = "sticker"
)

// Editable reports whether messages of this kind carry text or a caption
// that can be rewritten after delivery. Stickers (and unknown kinds) cannot.
func (k Kind) Editable() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindAudio, KindVoice, KindAnimation, KindDocument:
		return true
	default:
		return false
	}
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SendOptions apply to a single outbound send.
//
// ReplyTo is the message id (in the destination chat) the copy should be
// threaded under; 0 means no reply linkage.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// Payload is one outbound item: a text body or a platform file reference
// plus caption. Caption is ignored for KindText.
type Payload struct {
	Kind    Kind
	FileID  string
	Text    string
	Caption string
}

// Outbound is the narrow send surface the relay core talks to.
//
// One typed primitive per content kind; SendAlbum delivers a media group as
// a single grouped send and returns one ref per item, in submission order.
// All errors crossing this boundary are *SendError.
type Outbound interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, p Payload, opt *SendOptions) (MessageRef, error)
	SendAlbum(ctx context.Context, to ChatTarget, items []Payload, opt *SendOptions) ([]MessageRef, error)

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditCaption(ctx context.Context, ref MessageRef, caption string, opt *SendOptions) error
}

// ErrClass buckets transport failures by how the relay core must react.
type ErrClass string

const (
	// ErrBlocked: the destination refuses delivery from us. Never retried.
	ErrBlocked ErrClass = "blocked"
	// ErrRateLimited: the platform demands a wait before the next call.
	ErrRateLimited ErrClass = "rate_limited"
	// ErrBadReplyTarget: the reply-to id is stale or foreign to the chat.
	ErrBadReplyTarget ErrClass = "bad_reply_target"
	// ErrNotFound: chat or message no longer exists. Never retried.
	ErrNotFound ErrClass = "not_found"
	// ErrTooLarge: payload rejected for size. Never retried.
	ErrTooLarge ErrClass = "too_large"
	// ErrUnknown: anything unclassified. Never retried blindly.
	ErrUnknown ErrClass = "unknown"
)

// SendError is the classified failure every Outbound call returns.
//
// RetryAfter is only set for ErrRateLimited and carries the wait the
// platform reported.
type SendError struct {
	Class      ErrClass
	Code       int
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send %s (code=%d): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("send %s (code=%d)", e.Class, e.Code)
}

func (e *SendError) Unwrap() error { return e.Err }

// ClassOf extracts the error class, defaulting to ErrUnknown for anything
// that did not come through an Outbound adapter.
func ClassOf(err error) ErrClass {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}
	return ErrUnknown
}

// RetryAfterOf returns the platform-reported wait for rate-limit errors,
// 0 otherwise.
func RetryAfterOf(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) && se.Class == ErrRateLimited {
		return se.RetryAfter
	}
	return 0
}
