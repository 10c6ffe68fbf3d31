package messagesgorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

// MessageRecord is a direct message. IsRead is nullable: rows written before
// the column existed carry NULL and count as unread.
type MessageRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	SenderID   string `gorm:"index;size:36;not null"`
	ReceiverID string `gorm:"index;size:36;not null"`
	Content    string `gorm:"type:text"`
	FileURL    string `gorm:"size:512"`
	IsRead     *bool
	CreatedAt  time.Time `gorm:"index"`
}

func (MessageRecord) TableName() string { return "messages" }

func (m *MessageRecord) Domain() domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		FileURL:    m.FileURL,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

func AutoMigrate(db *gorm.DB) error { return db.AutoMigrate(&MessageRecord{}) }
