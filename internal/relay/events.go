package relay

import "time"

// MessageView is the normalized, anonymized rendering of one relayed unit
// published on the event bus for side-channel consumers (the live feed).
// It carries the alias, never the sender's real id.
type MessageView struct {
	Alias      string    `json:"alias"`
	Icon       string    `json:"icon,omitempty"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text,omitempty"`
	AlbumID    string    `json:"album_id,omitempty"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	At         time.Time `json:"at"`
}
