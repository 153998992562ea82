package usecase

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"messenger/internal/domain"
)

type SendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	// ConversationID is optional; when nil the conversation is resolved from the pair.
	ConversationID *int64
}

// SendMessage stores a message and updates the denormalized views.
//
// The message log write is the durability boundary. The two summary rows and
// the conversation metadata are written afterwards, in parallel, detached
// from the caller's cancellation. If any of them fails the stored message is
// returned together with a TRANSIENT_STORAGE error (reason
// "fanout_incomplete"); RepairFanout re-applies them safely.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (domain.Message, error) {
	if err := validatePair(in.SenderID, in.ReceiverID); err != nil {
		return domain.Message{}, err
	}
	content := in.Content
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentLength {
		return domain.Message{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}

	var conversationID int64
	if in.ConversationID == nil {
		id, err := s.ResolveConversationID(ctx, in.SenderID, in.ReceiverID)
		if err != nil {
			return domain.Message{}, err
		}
		conversationID = id
	} else {
		conv, err := s.GetConversation(ctx, *in.ConversationID)
		if err != nil {
			return domain.Message{}, err
		}
		if !conv.HasParticipant(in.SenderID) || !conv.HasParticipant(in.ReceiverID) {
			return domain.Message{}, newError(ErrorInvalidInput, "participant_mismatch", nil)
		}
		conversationID = conv.ID
	}

	msg := domain.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        content,
		CreatedAt:      s.nextTimestamp(),
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return domain.Message{}, storageError("message_write_error", err)
	}

	if err := s.fanout(ctx, msg); err != nil {
		s.log.Error("message fanout incomplete", "conversation_id", msg.ConversationID, "message_id", msg.ID, "err", err)
		return msg, newError(ErrorTransientStorage, "fanout_incomplete", err)
	}
	return msg, nil
}

// RepairFanout re-applies the summary and metadata updates of an already
// stored message. It is idempotent and never moves a view backwards.
func (s *Service) RepairFanout(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID <= 0 || msg.CreatedAt.IsZero() {
		return newError(ErrorInvalidInput, "incomplete_message", nil)
	}
	if err := validatePair(msg.SenderID, msg.ReceiverID); err != nil {
		return err
	}
	if err := s.fanout(ctx, msg); err != nil {
		return storageError("fanout_repair_error", err)
	}
	return nil
}

// ReconcileConversation rebuilds the summary rows and metadata of a
// conversation from the newest message in its log.
func (s *Service) ReconcileConversation(ctx context.Context, conversationID int64) error {
	if conversationID <= 0 {
		return newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	latest, err := s.store.QueryMessages(ctx, conversationID, domain.MessageRange{Limit: 1})
	if err != nil {
		return storageError("message_read_error", err)
	}
	if len(latest) == 0 {
		return nil
	}
	if err := s.fanout(ctx, latest[0]); err != nil {
		return storageError("reconcile_error", err)
	}
	s.log.Info("conversation reconciled", "conversation_id", conversationID, "message_id", latest[0].ID)
	return nil
}

func (s *Service) fanout(ctx context.Context, msg domain.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FanoutTimeout)
	defer cancel()

	lo, hi := domain.CanonicalPair(msg.SenderID, msg.ReceiverID)
	senderView := domain.ConversationSummary{
		UserID:             msg.SenderID,
		ConversationID:     msg.ConversationID,
		OtherUserID:        msg.ReceiverID,
		LastMessageID:      msg.ID,
		LastMessageAt:      msg.CreatedAt,
		LastMessageContent: msg.Content,
	}
	receiverView := senderView
	receiverView.UserID = msg.ReceiverID
	receiverView.OtherUserID = msg.SenderID

	// No shared context: one failed write must not cancel the others.
	var g errgroup.Group
	g.Go(func() error { return s.store.PutSummary(ctx, senderView) })
	g.Go(func() error { return s.store.PutSummary(ctx, receiverView) })
	g.Go(func() error { return s.store.TouchConversation(ctx, lo, hi, msg) })
	return g.Wait()
}
