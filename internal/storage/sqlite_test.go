package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/model"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "copies.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testCopy(rcpt int64, msgID int, origin model.OriginalID) model.Copy {
	return model.Copy{
		RecipientID: rcpt,
		MessageID:   msgID,
		Origin:      origin,
		Kind:        kit.KindText,
		Caption:     "body",
		RelayedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestCreateAndLookupCopy(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	origin := model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10}

	if err := st.CreateCopy(ctx, testCopy(2, 1001, origin)); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	c, ok, err := st.CopyByMessage(ctx, 2, 1001)
	if err != nil || !ok {
		t.Fatalf("CopyByMessage: %v, %v", ok, err)
	}
	if c.Origin != origin || c.Kind != kit.KindText || c.Caption != "body" {
		t.Fatalf("copy = %+v", c)
	}
	if _, ok, _ := st.CopyByMessage(ctx, 2, 9999); ok {
		t.Fatalf("lookup of unknown message succeeded")
	}
}

func TestCreateCopyUpserts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	origin := model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10}

	if err := st.CreateCopy(ctx, testCopy(2, 1001, origin)); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	second := testCopy(2, 1001, model.OriginalID{UserID: 5, MsgID: 50, ItemMsgID: 50})
	if err := st.CreateCopy(ctx, second); err != nil {
		t.Fatalf("CreateCopy (upsert): %v", err)
	}
	c, _, _ := st.CopyByMessage(ctx, 2, 1001)
	if c.Origin != second.Origin {
		t.Fatalf("upsert kept stale origin: %+v", c.Origin)
	}
	copies, err := st.CopiesByAnchor(ctx, 5, 50)
	if err != nil {
		t.Fatalf("CopiesByAnchor: %v", err)
	}
	if len(copies) != 1 {
		t.Fatalf("copies = %d, want 1 after upsert", len(copies))
	}
}

func TestCopiesByAnchorReturnsWholeUnit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// A 2-item album: self copies plus two recipients.
	for _, item := range []int{100, 101} {
		origin := model.OriginalID{UserID: 1, MsgID: 100, ItemMsgID: item}
		if err := st.CreateCopy(ctx, testCopy(1, item, origin)); err != nil {
			t.Fatalf("CreateCopy: %v", err)
		}
		for rcpt := int64(2); rcpt <= 3; rcpt++ {
			if err := st.CreateCopy(ctx, testCopy(rcpt, int(rcpt)*1000+item, origin)); err != nil {
				t.Fatalf("CreateCopy: %v", err)
			}
		}
	}

	copies, err := st.CopiesByAnchor(ctx, 1, 100)
	if err != nil {
		t.Fatalf("CopiesByAnchor: %v", err)
	}
	if len(copies) != 6 {
		t.Fatalf("copies = %d, want 6", len(copies))
	}
	// Ordered by recipient, then item.
	for i := 1; i < len(copies); i++ {
		prev, cur := copies[i-1], copies[i]
		if cur.RecipientID < prev.RecipientID {
			t.Fatalf("copies out of recipient order at %d", i)
		}
		if cur.RecipientID == prev.RecipientID && cur.Origin.ItemMsgID < prev.Origin.ItemMsgID {
			t.Fatalf("copies out of item order at %d", i)
		}
	}
}

func TestFindRelayedPrefersItemMatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Two album items delivered to recipient 2; both share the anchor.
	first := model.OriginalID{UserID: 1, MsgID: 100, ItemMsgID: 100}
	second := model.OriginalID{UserID: 1, MsgID: 100, ItemMsgID: 101}
	if err := st.CreateCopy(ctx, testCopy(2, 2100, first)); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	if err := st.CreateCopy(ctx, testCopy(2, 2101, second)); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}

	c, ok, err := st.FindRelayed(ctx, 2, second)
	if err != nil || !ok {
		t.Fatalf("FindRelayed: %v, %v", ok, err)
	}
	if c.MessageID != 2101 {
		t.Fatalf("found message %d, want the item-level match 2101", c.MessageID)
	}

	// An item id the recipient never got still resolves via the anchor.
	c, ok, _ = st.FindRelayed(ctx, 2, model.OriginalID{UserID: 1, MsgID: 100, ItemMsgID: 102})
	if !ok {
		t.Fatalf("anchor-level fallback missed")
	}
	if c.Origin.MsgID != 100 {
		t.Fatalf("fallback copy = %+v", c)
	}
}

func TestUpdateCaption(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	origin := model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10}

	if err := st.CreateCopy(ctx, testCopy(2, 1001, origin)); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	if err := st.UpdateCaption(ctx, 2, 1001, "rewritten"); err != nil {
		t.Fatalf("UpdateCaption: %v", err)
	}
	c, _, _ := st.CopyByMessage(ctx, 2, 1001)
	if c.Caption != "rewritten" {
		t.Fatalf("caption = %q", c.Caption)
	}
}

func TestExpiredCopiesAreInvisibleAndSwept(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	live := testCopy(2, 1001, model.OriginalID{UserID: 1, MsgID: 10, ItemMsgID: 10})
	dead := testCopy(2, 1002, model.OriginalID{UserID: 1, MsgID: 11, ItemMsgID: 11})
	dead.ExpiresAt = time.Now().Add(-time.Minute)
	if err := st.CreateCopy(ctx, live); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}
	if err := st.CreateCopy(ctx, dead); err != nil {
		t.Fatalf("CreateCopy: %v", err)
	}

	if _, ok, _ := st.CopyByMessage(ctx, 2, 1002); ok {
		t.Fatalf("expired copy still visible")
	}
	if _, ok, _ := st.FindRelayed(ctx, 2, dead.Origin); ok {
		t.Fatalf("expired copy resolvable")
	}

	n, err := st.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if _, ok, _ := st.CopyByMessage(ctx, 2, 1001); !ok {
		t.Fatalf("live copy swept")
	}
}
