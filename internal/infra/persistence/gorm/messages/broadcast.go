package messagesgorm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
)

// Broadcast sends the same announcement from senderID to every receiver as
// individual direct messages, so unread counts and activity work unchanged.
// Returns the number of messages created.
func (r *Repo) Broadcast(ctx context.Context, senderID string, receivers []string, content string) (int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, ErrEmptyMessage
	}
	now := time.Now().UTC()
	rows := make([]*MessageRecord, 0, len(receivers))
	seen := map[string]struct{}{}
	for _, to := range receivers {
		if to == "" || to == senderID {
			continue
		}
		if _, ok := seen[to]; ok {
			continue
		}
		seen[to] = struct{}{}
		rows = append(rows, &MessageRecord{ID: uuid.NewString(), SenderID: senderID, ReceiverID: to, Content: content, CreatedAt: now})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return 0, err
	}
	for _, m := range rows {
		r.publish(ctx, feed.Insert, nil, m)
	}
	return len(rows), nil
}
