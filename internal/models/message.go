package models

import "time"

// MessageStatus is the delivery status of a message.
// It only ever moves forward: waiting, sent, delivered, read.
type MessageStatus string

const (
	StatusWaiting   MessageStatus = "waiting"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses. Unknown statuses rank below waiting.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic
// and actually changes it.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Rank() > s.Rank()
}

// Max returns the later of the two statuses.
func (s MessageStatus) Max(other MessageStatus) MessageStatus {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// Below returns every status ranked strictly lower than s.
func (s MessageStatus) Below() []MessageStatus {
	var out []MessageStatus
	for _, st := range []MessageStatus{StatusWaiting, StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// ContentType tells how Message.Content should be interpreted.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentFile ContentType = "file"
)

// Message represents one message of a room's transcript.
type Message struct {
	// MessageID is assigned by the store. Before confirmation the client uses a temporary id.
	MessageID string `gorm:"primaryKey" json:"message_id"`
	// RoomID is the room the message belongs to.
	RoomID string `gorm:"not null;index:idx_room_created,priority:1" json:"room_id"`
	// SenderID and ReceiverID never change after creation.
	SenderID   string `gorm:"not null;index" json:"sender_id"`
	ReceiverID string `gorm:"not null;index" json:"receiver_id"`
	// Content is the message text, or the caption/file name of a file message.
	Content     string      `gorm:"type:text;not null" json:"content"`
	ContentType ContentType `gorm:"type:text;not null;default:'text'" json:"content_type"`
	FileURL     string      `gorm:"type:text" json:"file_url,omitempty"`
	FileName    string      `gorm:"type:text" json:"file_name,omitempty"`
	// CreatedAt is the server timestamp; transcripts are ordered by it.
	CreatedAt time.Time     `gorm:"index:idx_room_created,priority:2" json:"created_at"`
	Status    MessageStatus `gorm:"type:text;not null;default:'sent'" json:"status"`
}

// Summary is the text stored in Room.LastMessage for this message.
func (m *Message) Summary() string {
	if m.Content != "" {
		return m.Content
	}
	return m.FileName
}
