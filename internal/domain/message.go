package domain

import "time"

// Message is a direct message between two identities. Only IsRead may change
// after creation and only from unread to read.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	FileURL    string    `json:"file_url,omitempty"`
	IsRead     *bool     `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Unread treats a NULL is_read as unread; legacy rows were written without it.
func (m Message) Unread() bool { return m.IsRead == nil || !*m.IsRead }

// Peer returns the counterpart of me in this message, or "" when me is not a party.
func (m Message) Peer(me string) string {
	switch me {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return ""
}
