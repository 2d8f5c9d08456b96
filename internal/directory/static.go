// Package directory is a stand-in for the external user service.
//
// The relay core only sees the narrow interfaces in internal/relay; this
// package satisfies them from a static member list so the bot runs without
// the full user backend. Swap it out by wiring real implementations in
// cmd/bot.
package directory

import (
	"context"
	"fmt"
	"sync"

	"relaybot/internal/relay"
)

type Static struct {
	mu      sync.Mutex
	members []int64
	// unreachable holds recipients whose transport rejected delivery
	// (blocked the bot); they are skipped on subsequent relays.
	unreachable map[int64]bool
}

func NewStatic(members []int64) *Static {
	return &Static{members: append([]int64(nil), members...), unreachable: map[int64]bool{}}
}

// SetMembers replaces the lobby membership (config reload).
func (s *Static) SetMembers(members []int64) {
	s.mu.Lock()
	s.members = append([]int64(nil), members...)
	s.mu.Unlock()
}

func (s *Static) LobbyUsers(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.members))
	for _, id := range s.members {
		if !s.unreachable[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Alias derives a stable pseudonym from the user id. The real user service
// assigns curated aliases; this only has the id to work with.
func (s *Static) Alias(ctx context.Context, id int64) (string, error) {
	return fmt.Sprintf("Anon-%04d", id%10000), nil
}

func (s *Static) Icon(ctx context.Context, id int64) (string, error) { return "", nil }

func (s *Static) Role(ctx context.Context, id int64) (string, error) { return "member", nil }

func (s *Static) CompactLayout(ctx context.Context, id int64) bool { return false }

// UserMeta reports a clean compliance snapshot; warnings and bans live in
// the external moderation service.
func (s *Static) UserMeta(ctx context.Context, id int64) (relay.UserMeta, error) {
	return relay.UserMeta{}, nil
}

func (s *Static) BlockedBy(ctx context.Context, candidates []int64, senderID int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

func (s *Static) MarkBlocked(ctx context.Context, recipientID int64) error {
	s.mu.Lock()
	s.unreachable[recipientID] = true
	s.mu.Unlock()
	return nil
}
