package messagesgorm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
)

type capture struct {
	mu  sync.Mutex
	evs []feed.Event
}

func (c *capture) Publish(_ context.Context, ev feed.Event) error {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	return nil
}

func setupRepo(t *testing.T) (*Repo, *gorm.DB, *capture) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate messages: %v", err)
	}
	c := &capture{}
	return NewRepo(db, c), db, c
}

func boolp(b bool) *bool { return &b }

func TestUnreadCountTreatsNullAsUnread(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()
	must := func(m *MessageRecord) {
		t.Helper()
		if err := r.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	must(&MessageRecord{SenderID: "a", ReceiverID: "me", Content: "legacy"})                    // NULL
	must(&MessageRecord{SenderID: "a", ReceiverID: "me", Content: "new", IsRead: boolp(false)}) // false
	must(&MessageRecord{SenderID: "a", ReceiverID: "me", Content: "seen", IsRead: boolp(true)}) // read
	must(&MessageRecord{SenderID: "me", ReceiverID: "a", Content: "outgoing"})                  // not mine
	n, err := r.UnreadCount(ctx, "me")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}
}

func TestMarkReadOnlyForReceiverAndPublishesUpdates(t *testing.T) {
	r, _, c := setupRepo(t)
	ctx := context.Background()
	m1 := &MessageRecord{SenderID: "a", ReceiverID: "me", Content: "1"}
	m2 := &MessageRecord{SenderID: "me", ReceiverID: "a", Content: "2"}
	_ = r.Create(ctx, m1)
	_ = r.Create(ctx, m2)
	// m2 is addressed to "a": "me" may not flip it
	n, err := r.MarkRead(ctx, "me", []string{m1.ID, m2.ID})
	if err != nil || n != 1 {
		t.Fatalf("mark read = %d, %v", n, err)
	}
	got, _ := r.Get(ctx, m2.ID)
	if got.IsRead != nil {
		t.Fatalf("sender-side message must stay untouched")
	}
	if cnt, _ := r.UnreadCount(ctx, "me"); cnt != 0 {
		t.Fatalf("expected 0 unread after mark, got %d", cnt)
	}
	// second mark is a no-op and publishes nothing
	before := len(c.evs)
	if n, _ := r.MarkRead(ctx, "me", []string{m1.ID}); n != 0 {
		t.Fatalf("re-marking should affect nothing")
	}
	if len(c.evs) != before {
		t.Fatalf("no-op mark must not publish")
	}
	last := c.evs[len(c.evs)-1]
	if last.Type != feed.Update || last.New["is_read"] != true || last.Old["is_read"] != nil {
		t.Fatalf("unexpected update event: %+v", last)
	}
}

func TestCreateValidationAndInsertEvent(t *testing.T) {
	r, _, c := setupRepo(t)
	ctx := context.Background()
	if err := r.Create(ctx, &MessageRecord{SenderID: "a", ReceiverID: "b", Content: "  "}); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := r.Create(ctx, &MessageRecord{SenderID: "a", ReceiverID: "a", Content: "hi"}); err != ErrSelfMessage {
		t.Fatalf("expected ErrSelfMessage, got %v", err)
	}
	if err := r.Create(ctx, &MessageRecord{SenderID: "a", ReceiverID: "b", FileURL: "uploads/x.pdf"}); err != nil {
		t.Fatalf("file-only message should be accepted: %v", err)
	}
	if len(c.evs) != 1 || c.evs[0].Type != feed.Insert || c.evs[0].New["receiver_id"] != "b" {
		t.Fatalf("unexpected events: %+v", c.evs)
	}
}

func TestRecentWithPeersAndConversation(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = r.Create(ctx, &MessageRecord{SenderID: "me", ReceiverID: "p1", Content: "a", CreatedAt: base.Add(1 * time.Minute)})
	_ = r.Create(ctx, &MessageRecord{SenderID: "p1", ReceiverID: "me", Content: "b", CreatedAt: base.Add(3 * time.Minute)})
	_ = r.Create(ctx, &MessageRecord{SenderID: "p2", ReceiverID: "me", Content: "c", CreatedAt: base.Add(2 * time.Minute)})
	_ = r.Create(ctx, &MessageRecord{SenderID: "p3", ReceiverID: "me", Content: "d", CreatedAt: base.Add(4 * time.Minute)})
	_ = r.Create(ctx, &MessageRecord{SenderID: "p1", ReceiverID: "p2", Content: "e", CreatedAt: base.Add(5 * time.Minute)})

	msgs, err := r.RecentWithPeers(ctx, "me", []string{"p1", "p2"}, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if !msgs[0].CreatedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", msgs[0].CreatedAt)
	}
	conv, err := r.Conversation(ctx, "me", "p1", time.Time{}, 10)
	if err != nil || len(conv) != 2 {
		t.Fatalf("conversation: %d %v", len(conv), err)
	}
	older, _ := r.Conversation(ctx, "me", "p1", base.Add(2*time.Minute), 10)
	if len(older) != 1 || older[0].Content != "a" {
		t.Fatalf("before cursor not applied: %+v", older)
	}
}

func TestBroadcast(t *testing.T) {
	r, _, c := setupRepo(t)
	ctx := context.Background()
	n, err := r.Broadcast(ctx, "admin", []string{"u1", "u2", "u1", "admin", ""}, "maintenance tonight")
	if err != nil || n != 2 {
		t.Fatalf("broadcast = %d, %v", n, err)
	}
	if len(c.evs) != 2 {
		t.Fatalf("expected one insert event per receiver, got %d", len(c.evs))
	}
	if cnt, _ := r.UnreadCount(ctx, "u2"); cnt != 1 {
		t.Fatalf("u2 should have 1 unread, got %d", cnt)
	}
}

func TestHasAttachment(t *testing.T) {
	r, _, _ := setupRepo(t)
	ctx := context.Background()
	_ = r.Create(ctx, &MessageRecord{SenderID: "a", ReceiverID: "me", FileURL: "a/1_plan.pdf"})
	if ok, err := r.HasAttachment(ctx, "me", "a/1_plan.pdf"); err != nil || !ok {
		t.Fatalf("receiver should see attachment: %v %v", ok, err)
	}
	if ok, _ := r.HasAttachment(ctx, "stranger", "a/1_plan.pdf"); ok {
		t.Fatalf("stranger must not see attachment")
	}
	// a sender naming someone else's key does not gain access to it
	_ = r.Create(ctx, &MessageRecord{SenderID: "mallory", ReceiverID: "friend", FileURL: "a/2_secret.pdf"})
	if ok, _ := r.HasAttachment(ctx, "mallory", "a/2_secret.pdf"); ok {
		t.Fatalf("sender gained access through its own message")
	}
}
