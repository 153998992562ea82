package handler

import (
	"errors"
	"strings"
	"time"

	"messenger/internal/domain"
)

type sendMessageRequest struct {
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	Content        string `json:"content"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

type createConversationRequest struct {
	ParticipantIDs []int64 `json:"participant_ids"`
}

type messageResponse struct {
	MessageID      string `json:"message_id"`
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// acceptedMessageResponse is returned when the message is stored but some
// conversation views still lag behind it.
type acceptedMessageResponse struct {
	messageResponse
	Reason string `json:"reason"`
}

type paginatedMessagesResponse struct {
	Messages   []messageResponse `json:"messages"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type conversationResponse struct {
	ConversationID int64   `json:"conversation_id"`
	ParticipantIDs []int64 `json:"participant_ids"`
	CreatedAt      string  `json:"created_at"`
	LastUpdated    string  `json:"last_updated"`
}

type conversationListItem struct {
	ConversationID int64  `json:"conversation_id"`
	OtherUserID    int64  `json:"other_user_id"`
	LastUpdated    string `json:"last_updated"`
	LastMessage    string `json:"last_message"`
}

type paginatedConversationsResponse struct {
	Conversations []conversationListItem `json:"conversations"`
	HasMore       bool                   `json:"has_more"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Timestamp:      formatTimestamp(m.CreatedAt),
	}
}

func toConversationResponse(c domain.Conversation) conversationResponse {
	return conversationResponse{
		ConversationID: c.ID,
		ParticipantIDs: c.Participants(),
		CreatedAt:      formatTimestamp(c.CreatedAt),
		LastUpdated:    formatTimestamp(c.LastUpdated()),
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Timestamps without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("timestamp is not ISO-8601")
}
