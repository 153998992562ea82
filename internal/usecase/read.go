package usecase

import (
	"context"
	"time"

	"messenger/internal/domain"
)

// PageRequest bounds a read. Limit <= 0 selects the default page size and
// larger values are clamped. Cursor is the NextCursor of the previous page.
type PageRequest struct {
	Limit  int
	Cursor string
}

type MessagePage struct {
	Messages []domain.Message
	// HasMore is true when the page is full; the next page may still be empty.
	HasMore    bool
	NextCursor string
}

type ConversationPage struct {
	Conversations []domain.ConversationSummary
	HasMore       bool
	NextCursor    string
}

// GetConversation returns the metadata of a conversation.
func (s *Service) GetConversation(ctx context.Context, conversationID int64) (domain.Conversation, error) {
	if conversationID <= 0 {
		return domain.Conversation{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, storageError("conversation_read_error", err)
	}
	return conv, nil
}

// ListConversationMessages returns a conversation's messages, newest first.
func (s *Service) ListConversationMessages(ctx context.Context, conversationID int64, p PageRequest) (MessagePage, error) {
	return s.listMessages(ctx, conversationID, time.Time{}, p)
}

// ListMessagesBefore returns messages created strictly before the given time,
// newest first.
func (s *Service) ListMessagesBefore(ctx context.Context, conversationID int64, before time.Time, p PageRequest) (MessagePage, error) {
	if before.IsZero() {
		return MessagePage{}, newError(ErrorInvalidInput, "missing_before_timestamp", nil)
	}
	return s.listMessages(ctx, conversationID, before, p)
}

func (s *Service) listMessages(ctx context.Context, conversationID int64, before time.Time, p PageRequest) (MessagePage, error) {
	if conversationID <= 0 {
		return MessagePage{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	startAfter, err := decodeMessageCursor(p.Cursor)
	if err != nil {
		return MessagePage{}, newError(ErrorInvalidInput, "invalid_cursor", err)
	}
	limit := s.pageLimit(p.Limit)

	msgs, err := s.store.QueryMessages(ctx, conversationID, domain.MessageRange{
		Limit:      limit,
		Before:     before,
		StartAfter: startAfter,
	})
	if err != nil {
		return MessagePage{}, storageError("message_read_error", err)
	}

	page := MessagePage{Messages: msgs, HasMore: len(msgs) == limit}
	if page.HasMore {
		page.NextCursor = messageCursor(msgs[len(msgs)-1].Key())
	}
	return page, nil
}

// ListUserConversations returns the user's conversation summaries, most
// recently active first.
func (s *Service) ListUserConversations(ctx context.Context, userID int64, p PageRequest) (ConversationPage, error) {
	if userID <= 0 {
		return ConversationPage{}, newError(ErrorInvalidInput, "invalid_user_id", nil)
	}
	startAfter, err := decodeSummaryCursor(p.Cursor)
	if err != nil {
		return ConversationPage{}, newError(ErrorInvalidInput, "invalid_cursor", err)
	}
	limit := s.pageLimit(p.Limit)

	summaries, err := s.store.QuerySummaries(ctx, userID, domain.SummaryRange{Limit: limit, StartAfter: startAfter})
	if err != nil {
		return ConversationPage{}, storageError("summary_read_error", err)
	}

	page := ConversationPage{Conversations: summaries, HasMore: len(summaries) == limit}
	if page.HasMore {
		page.NextCursor = summaryCursor(summaries[len(summaries)-1].Key())
	}
	return page, nil
}
