package messagesgorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
)

const Table = "messages"

// MaxActivityScan bounds the cold read behind conversation activity.
const MaxActivityScan = 500

var (
	ErrNotFound     = fmt.Errorf("message %w", domain.ErrNotFound)
	ErrEmptyMessage = errors.New("message needs content or a file")
	ErrSelfMessage  = errors.New("cannot message yourself")
)

// unreadClause keeps legacy NULL rows counted as unread.
const unreadClause = "(is_read = ? OR is_read IS NULL)"

// Repo is the only writer of messages; every insert and read transition is
// published to the change feed after it commits.
type Repo struct {
	db  *gorm.DB
	pub feed.Publisher
}

func NewRepo(db *gorm.DB, pub feed.Publisher) *Repo { return &Repo{db: db, pub: pub} }

func (r *Repo) publish(ctx context.Context, typ feed.EventType, oldRec, newRec *MessageRecord) {
	if r.pub == nil {
		return
	}
	ev := feed.Event{Table: Table, Type: typ, At: time.Now().UTC()}
	if newRec != nil {
		ev.New, _ = feed.Row(newRec.Domain())
	}
	if oldRec != nil {
		ev.Old, _ = feed.Row(oldRec.Domain())
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		slog.Warn("publish message change", "type", typ, "error", err)
	}
}

func (r *Repo) Create(ctx context.Context, m *MessageRecord) error {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" && m.FileURL == "" {
		return ErrEmptyMessage
	}
	if m.SenderID == m.ReceiverID {
		return ErrSelfMessage
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	r.publish(ctx, feed.Insert, nil, m)
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*MessageRecord, error) {
	var m MessageRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UnreadCount counts messages addressed to receiverID whose is_read is false or NULL.
func (r *Repo) UnreadCount(ctx context.Context, receiverID string) (int64, error) {
	var c int64
	err := r.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("receiver_id = ?", receiverID).
		Where(unreadClause, false).
		Count(&c).Error
	return c, err
}

// MarkRead flips unread messages addressed to receiverID. Only the receiver may
// do this, so ids addressed to anyone else are ignored.
func (r *Repo) MarkRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.markRead(ctx, r.db.WithContext(ctx).Where("receiver_id = ? AND id IN ?", receiverID, ids))
}

// MarkConversationRead marks everything peer sent to receiverID as read.
func (r *Repo) MarkConversationRead(ctx context.Context, receiverID, peerID string) (int64, error) {
	return r.markRead(ctx, r.db.WithContext(ctx).Where("receiver_id = ? AND sender_id = ?", receiverID, peerID))
}

func (r *Repo) markRead(ctx context.Context, scope *gorm.DB) (int64, error) {
	var rows []*MessageRecord
	if err := scope.Where(unreadClause, false).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}
	res := r.db.WithContext(ctx).Model(&MessageRecord{}).Where("id IN ?", ids).Where(unreadClause, false).Update("is_read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	read := true
	for _, old := range rows {
		updated := *old
		updated.IsRead = &read
		r.publish(ctx, feed.Update, old, &updated)
	}
	return res.RowsAffected, nil
}

// RecentWithPeers returns up to limit messages exchanged between me and any of
// peers, newest first.
func (r *Repo) RecentWithPeers(ctx context.Context, me string, peers []string, limit int) ([]domain.Message, error) {
	if len(peers) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > MaxActivityScan {
		limit = MaxActivityScan
	}
	var rows []*MessageRecord
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id IN ?) OR (receiver_id = ? AND sender_id IN ?)", me, peers, me, peers).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomain(rows), nil
}

// Conversation pages the thread between me and peer, newest first; before bounds the page.
func (r *Repo) Conversation(ctx context.Context, me, peer string, before time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", me, peer, peer, me)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var rows []*MessageRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomain(rows), nil
}

func toDomain(rows []*MessageRecord) []domain.Message {
	out := make([]domain.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.Domain())
	}
	return out
}

// HasAttachment reports whether a message addressed to me references key.
// Sent messages do not count: the sender chose the key.
func (r *Repo) HasAttachment(ctx context.Context, me, key string) (bool, error) {
	var c int64
	err := r.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("file_url = ? AND receiver_id = ?", key, me).
		Count(&c).Error
	return c > 0, err
}
