// Package model holds the records shared by the relay core, the durable
// copy store, and the quote-link index.
package model

import (
	"time"

	kit "relaybot/internal/transport"
)

// OriginalID identifies one logical unit of a sender's content.
//
// MsgID anchors the unit (the first message id of an album, or the message
// id itself for singles); ItemMsgID distinguishes items within an album and
// equals MsgID for singles. Immutable once created.
type OriginalID struct {
	UserID    int64
	MsgID     int
	ItemMsgID int
}

func (o OriginalID) IsZero() bool { return o.UserID == 0 && o.MsgID == 0 && o.ItemMsgID == 0 }

// Item is one inbound unit (or one member of an album) as handed to the
// relay core by the ingestion handler, already approved upstream.
type Item struct {
	SenderID int64
	MsgID    int
	AlbumID  string
	Kind     kit.Kind
	FileID   string
	Text     string
	// ReplyTo is the message id, in the sender's own chat, that the sender
	// replied to. 0 if the item is not a reply.
	ReplyTo int
}

// Edit is a sender's edit of a previously relayed unit.
type Edit struct {
	SenderID int64
	MsgID    int
	Kind     kit.Kind
	Text     string
}

// Copy is one recipient-specific delivered rendering of an original unit.
//
// MessageID is the transport-assigned id in the recipient's chat. The
// sender's own message is stored as a self-referential copy
// (RecipientID == Origin.UserID, MessageID == Origin.ItemMsgID) so replies
// and edits in the sender's chat correlate back to the unit.
type Copy struct {
	RecipientID int64
	MessageID   int
	Origin      OriginalID
	Kind        kit.Kind
	FileID      string
	Caption     string
	AlbumID     string
	RelayedAt   time.Time
	ExpiresAt   time.Time
}
