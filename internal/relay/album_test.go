package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/model"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func addAlbumItems(t *testing.T, c *Coalescer, senderID int64, albumID string, msgIDs ...int) {
	t.Helper()
	for i, id := range msgIDs {
		it := model.Item{SenderID: senderID, MsgID: id, AlbumID: albumID, Kind: kit.KindPhoto, FileID: "f" + albumID}
		if i == 0 {
			it.Text = "caption"
		}
		c.Add(context.Background(), it)
	}
}

func TestAlbumFanOutGroupsItems(t *testing.T) {
	g := newRig(t, 1, 2, 3)
	g.dir.aliases[1] = "Wolf"
	c := NewCoalescer(g.relayer, logx.Nop())

	addAlbumItems(t, c, 1, "alb1", 100, 101, 102)
	if got := c.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	c.Flush("alb1")
	if got := c.Pending(); got != 0 {
		t.Fatalf("pending after flush = %d, want 0", got)
	}

	if len(g.out.albums) != 2 {
		t.Fatalf("expected 2 grouped sends, got %d", len(g.out.albums))
	}
	for _, call := range g.out.albums {
		if len(call.payloads) != 3 {
			t.Fatalf("grouped send carries %d items, want 3", len(call.payloads))
		}
		// Header rides on the first item only.
		if !strings.Contains(call.payloads[0].Caption, "Wolf") {
			t.Fatalf("first caption = %q, want header", call.payloads[0].Caption)
		}
		for _, p := range call.payloads[1:] {
			if strings.Contains(p.Caption, "Wolf") {
				t.Fatalf("trailing item carries the header: %q", p.Caption)
			}
		}
	}

	// 3 self copies + 3 items x 2 recipients.
	if got := g.store.count(); got != 9 {
		t.Fatalf("stored copies = %d, want 9", got)
	}

	// Every copy is anchored at the first item's message id.
	copies, _ := g.store.CopiesByAnchor(context.Background(), 1, 100)
	if len(copies) != 9 {
		t.Fatalf("copies by anchor = %d, want 9", len(copies))
	}
	for _, cp := range copies {
		if cp.AlbumID != "alb1" {
			t.Fatalf("copy missing album id: %+v", cp)
		}
	}
}

func TestAlbumFlushIsIdempotent(t *testing.T) {
	g := newRig(t, 1, 2)
	c := NewCoalescer(g.relayer, logx.Nop())

	addAlbumItems(t, c, 1, "alb2", 200, 201)
	c.Flush("alb2")
	c.Flush("alb2")

	if len(g.out.albums) != 1 {
		t.Fatalf("expected exactly 1 grouped send, got %d", len(g.out.albums))
	}
}

func TestAlbumBlockedRecipientIsSkipped(t *testing.T) {
	g := newRig(t, 1, 2, 3, 4)
	g.dir.blockedBy[4] = true
	c := NewCoalescer(g.relayer, logx.Nop())

	addAlbumItems(t, c, 1, "alb3", 300, 301, 302)
	c.Flush("alb3")

	if len(g.out.albums) != 2 {
		t.Fatalf("grouped sends = %d, want 2", len(g.out.albums))
	}
	for _, call := range g.out.albums {
		if call.chat == 4 {
			t.Fatalf("blocker received the album")
		}
	}
	// 3 self copies + 3 items x 2 eligible recipients.
	if got := g.store.count(); got != 9 {
		t.Fatalf("stored copies = %d, want 9", got)
	}
}

func TestAlbumFailureIsolation(t *testing.T) {
	g := newRig(t, 1, 2, 3)
	g.out.failSend[2] = &kit.SendError{Class: kit.ErrTooLarge, Code: 413}
	c := NewCoalescer(g.relayer, logx.Nop())

	addAlbumItems(t, c, 1, "alb4", 400, 401)
	c.Flush("alb4")

	// Recipient 3 still got the whole group.
	var delivered int
	for _, call := range g.out.albums {
		if call.chat == 3 {
			delivered = len(call.payloads)
		}
	}
	if delivered != 2 {
		t.Fatalf("surviving recipient got %d items, want 2", delivered)
	}
	// 2 self copies + 2 copies for recipient 3, none for the failed one.
	if got := g.store.count(); got != 4 {
		t.Fatalf("stored copies = %d, want 4", got)
	}
}

// Membership is recomputed at flush time; a member joining between the
// first item and the flush still receives the album. The reply target was
// already resolved at buffer creation and stays as captured.
func TestAlbumLateJoinerReceivesDelivery(t *testing.T) {
	g := newRig(t, 1, 2)
	c := NewCoalescer(g.relayer, logx.Nop())

	c.Add(context.Background(), model.Item{SenderID: 1, MsgID: 500, AlbumID: "alb5", Kind: kit.KindPhoto, FileID: "f"})
	g.dir.addMember(5)
	c.Add(context.Background(), model.Item{SenderID: 1, MsgID: 501, AlbumID: "alb5", Kind: kit.KindPhoto, FileID: "f"})
	c.Flush("alb5")

	var gotLate bool
	for _, call := range g.out.albums {
		if call.chat == 5 {
			gotLate = true
		}
	}
	if !gotLate {
		t.Fatalf("flush-time member did not receive the album")
	}
}

func TestAlbumReplyThreadsForAllRecipients(t *testing.T) {
	g := newRig(t, 1, 2, 3)
	ctx := context.Background()

	// User 1 posts a single; user 2 answers it with an album.
	if _, err := g.relayer.Relay(ctx, model.Item{SenderID: 1, MsgID: 10, Kind: kit.KindText, Text: "first"}); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	copy2, ok, _ := g.store.FindRelayed(ctx, 2, model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10})
	if !ok {
		t.Fatalf("no copy for recipient 2")
	}
	copy3, _, _ := g.store.FindRelayed(ctx, 3, model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10})

	c := NewCoalescer(g.relayer, logx.Nop())
	c.Add(ctx, model.Item{SenderID: 2, MsgID: 60, AlbumID: "alb6", Kind: kit.KindPhoto, FileID: "f", ReplyTo: copy2.MessageID})
	c.Add(ctx, model.Item{SenderID: 2, MsgID: 61, AlbumID: "alb6", Kind: kit.KindPhoto, FileID: "f"})
	c.Flush("alb6")

	byChat := map[int64]sentCall{}
	for _, call := range g.out.albums {
		byChat[call.chat] = call
	}
	if got := byChat[1].opt.ReplyTo; got != 10 {
		t.Fatalf("author reply target = %d, want 10", got)
	}
	if got := byChat[3].opt.ReplyTo; got != copy3.MessageID {
		t.Fatalf("third-party reply target = %d, want %d", got, copy3.MessageID)
	}
}

// Handlers may deliver sibling updates in any order; the flush must still
// send items in submission order and thread the reply captured on the
// album's first item, even when a later item created the buffer.
func TestAlbumOutOfOrderArrival(t *testing.T) {
	g := newRig(t, 1, 2, 3)
	ctx := context.Background()

	// User 1 posts a single for user 2 to answer.
	if _, err := g.relayer.Relay(ctx, model.Item{SenderID: 1, MsgID: 10, Kind: kit.KindText, Text: "first"}); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	copy2, ok, _ := g.store.FindRelayed(ctx, 2, model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10})
	if !ok {
		t.Fatalf("no copy for recipient 2")
	}
	copy3, _, _ := g.store.FindRelayed(ctx, 3, model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10})

	// The album's second item arrives first; the first item carries the
	// reply linkage.
	c := NewCoalescer(g.relayer, logx.Nop())
	c.Add(ctx, model.Item{SenderID: 2, MsgID: 61, AlbumID: "alb", Kind: kit.KindPhoto, FileID: "late"})
	c.Add(ctx, model.Item{SenderID: 2, MsgID: 60, AlbumID: "alb", Kind: kit.KindPhoto, FileID: "lead", ReplyTo: copy2.MessageID})
	c.Flush("alb")

	byChat := map[int64]sentCall{}
	for _, call := range g.out.albums {
		byChat[call.chat] = call
	}
	for chat, call := range byChat {
		if call.payloads[0].FileID != "lead" || call.payloads[1].FileID != "late" {
			t.Fatalf("chat %d: delivery order inverted: [%s %s]", chat, call.payloads[0].FileID, call.payloads[1].FileID)
		}
	}
	if got := byChat[1].opt.ReplyTo; got != 10 {
		t.Fatalf("author reply target = %d, want 10", got)
	}
	if got := byChat[3].opt.ReplyTo; got != copy3.MessageID {
		t.Fatalf("third-party reply target = %d, want %d", got, copy3.MessageID)
	}

	// The anchor is the first item by submission, not by arrival.
	if _, ok, _ := g.store.CopyByMessage(ctx, 2, 60); !ok {
		t.Fatalf("self copy for the leading item missing")
	}
	copies, _ := g.store.CopiesByAnchor(ctx, 2, 60)
	if len(copies) != 6 {
		t.Fatalf("copies anchored at the leading item = %d, want 6", len(copies))
	}
}

func TestAlbumConcurrentArrivalKeepsOrder(t *testing.T) {
	g := newRig(t, 1, 2)
	ctx := context.Background()
	c := NewCoalescer(g.relayer, logx.Nop())

	for i := 0; i < 100; i++ {
		albumID := fmt.Sprintf("race-%d", i)
		first := model.Item{SenderID: 1, MsgID: 100 + 2*i, AlbumID: albumID, Kind: kit.KindPhoto, FileID: "lead"}
		second := model.Item{SenderID: 1, MsgID: 101 + 2*i, AlbumID: albumID, Kind: kit.KindPhoto, FileID: "late"}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.Add(ctx, first) }()
		go func() { defer wg.Done(); c.Add(ctx, second) }()
		wg.Wait()
		c.Flush(albumID)
	}

	if len(g.out.albums) != 100 {
		t.Fatalf("grouped sends = %d, want 100", len(g.out.albums))
	}
	for i, call := range g.out.albums {
		if len(call.payloads) != 2 {
			t.Fatalf("iter %d: %d items, want 2", i, len(call.payloads))
		}
		if call.payloads[0].FileID != "lead" || call.payloads[1].FileID != "late" {
			t.Fatalf("iter %d: delivery order inverted: [%s %s]", i, call.payloads[0].FileID, call.payloads[1].FileID)
		}
	}
}

func TestDispatcherRoutesAlbumsToCoalescer(t *testing.T) {
	g := newRig(t, 1, 2)
	c := NewCoalescer(g.relayer, logx.Nop())
	d := NewDispatcher(g.relayer, c, logx.Nop())
	ctx := context.Background()

	out, err := d.Dispatch(ctx, model.Item{SenderID: 1, MsgID: 700, AlbumID: "alb7", Kind: kit.KindPhoto, FileID: "f"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Recipients != 0 || len(g.out.albums) != 0 {
		t.Fatalf("album item fanned out before flush")
	}
	if c.Pending() != 1 {
		t.Fatalf("album item not buffered")
	}

	out, err = d.Dispatch(ctx, model.Item{SenderID: 1, MsgID: 701, Kind: kit.KindText, Text: "single"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Recipients != 1 || out.Sent != 1 {
		t.Fatalf("single outcome = %+v", out)
	}
}
