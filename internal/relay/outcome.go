package relay

import (
	kit "relaybot/internal/transport"
)

// Failure is one recipient's classified delivery failure. Failures never
// abort sibling recipients and are never surfaced to the sender.
type Failure struct {
	RecipientID int64
	Class       kit.ErrClass
	Err         error
}

// Outcome summarizes one fan-out.
type Outcome struct {
	Recipients int
	Sent       int
	Failures   []Failure
}

func (o *Outcome) fail(recipientID int64, class kit.ErrClass, err error) {
	o.Failures = append(o.Failures, Failure{RecipientID: recipientID, Class: class, Err: err})
}
