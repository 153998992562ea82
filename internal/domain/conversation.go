package domain

import "time"

// Conversation is the metadata record of a two-party conversation.
// User1ID is always the smaller of the two participant ids.
type Conversation struct {
	ID                 int64
	User1ID            int64
	User2ID            int64
	CreatedAt          time.Time
	LastMessageAt      *time.Time
	LastMessageContent string
}

// Participants returns both user ids in canonical order.
func (c Conversation) Participants() []int64 {
	return []int64{c.User1ID, c.User2ID}
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// LastUpdated is the time of the last message, or the creation time when
// nothing has been sent yet.
func (c Conversation) LastUpdated() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationSummary is one participant's view of a conversation in their
// conversation list.
type ConversationSummary struct {
	UserID             int64
	ConversationID     int64
	OtherUserID        int64
	LastMessageID      string
	LastMessageAt      time.Time
	LastMessageContent string
}

// Key returns the ordering key of the summary within the user's list.
func (s ConversationSummary) Key() SummaryKey {
	return SummaryKey{LastMessageAt: s.LastMessageAt, ConversationID: s.ConversationID}
}

// SummaryKey orders a user's conversations by (LastMessageAt desc, ConversationID desc).
type SummaryKey struct {
	LastMessageAt  time.Time
	ConversationID int64
}

// CanonicalPair returns the unordered pair (a, b) with the smaller id first.
func CanonicalPair(a, b int64) (lo, hi int64) {
	if a > b {
		return b, a
	}
	return a, b
}
