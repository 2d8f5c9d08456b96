package quoteindex

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Put(ctx, "k", Entry{Preview: "p"}, 10*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatalf("entry missing before expiry")
	}
	time.Sleep(25 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("entry survived its ttl")
	}
}

func TestMemoryStoreOverwriteRefreshes(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Put(ctx, "k", Entry{Preview: "old"}, 10*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k", Entry{Preview: "new"}, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	e, ok, _ := s.Get(ctx, "k")
	if !ok || e.Preview != "new" {
		t.Fatalf("Get = %+v, %v", e, ok)
	}
}
