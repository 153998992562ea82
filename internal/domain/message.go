package domain

import "time"

// Message is a single immutable entry in a conversation's message log.
type Message struct {
	ID             string
	ConversationID int64
	SenderID       int64
	ReceiverID     int64
	Content        string
	CreatedAt      time.Time
}

// Key returns the ordering key of the message within its conversation.
func (m Message) Key() MessageKey {
	return MessageKey{CreatedAt: m.CreatedAt, MessageID: m.ID}
}

// MessageKey orders messages by (CreatedAt desc, MessageID desc).
type MessageKey struct {
	CreatedAt time.Time
	MessageID string
}
