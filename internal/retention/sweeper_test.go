package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"relaybot/internal/model"
	logx "relaybot/pkg/logx"
)

type countingStore struct {
	mu      sync.Mutex
	sweeps  int
	removed int64
}

func (s *countingStore) CreateCopy(ctx context.Context, c model.Copy) error { return nil }

func (s *countingStore) CopiesByAnchor(ctx context.Context, senderID int64, anchorMsgID int) ([]model.Copy, error) {
	return nil, nil
}

func (s *countingStore) CopyByMessage(ctx context.Context, recipientID int64, messageID int) (model.Copy, bool, error) {
	return model.Copy{}, false, nil
}

func (s *countingStore) FindRelayed(ctx context.Context, recipientID int64, origin model.OriginalID) (model.Copy, bool, error) {
	return model.Copy{}, false, nil
}

func (s *countingStore) UpdateCaption(ctx context.Context, recipientID int64, messageID int, caption string) error {
	return nil
}

func (s *countingStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return s.removed, nil
}

func (s *countingStore) Close() error { return nil }

func TestSweepDeletesExpired(t *testing.T) {
	st := &countingStore{removed: 3}
	s := NewSweeper(Config{}, st, logx.Nop())

	s.sweep()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", st.sweeps)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(Config{Schedule: "not a schedule"}, &countingStore{}, logx.Nop())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("expected schedule parse error")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	s := NewSweeper(Config{Schedule: "*/5 * * * *"}, &countingStore{}, logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second start is a no-op, and stop is idempotent.
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
	s.Stop()
}
