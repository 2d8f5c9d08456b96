package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: EventRelayed, Data: "payload"})

	select {
	case e := <-ch:
		if e.Type != EventRelayed {
			t.Fatalf("type = %q", e.Type)
		}
		if e.ID == "" {
			t.Fatalf("event id not assigned")
		}
		if e.Time.IsZero() {
			t.Fatalf("event time not assigned")
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub() // idempotent

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "t"})

	if _, open := <-ch; open {
		t.Fatalf("channel still open after unsubscribe")
	}
}
