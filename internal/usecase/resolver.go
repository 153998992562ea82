package usecase

import (
	"context"
	"errors"

	"messenger/internal/domain"
)

func validatePair(a, b int64) error {
	if a <= 0 || b <= 0 {
		return newError(ErrorInvalidInput, "invalid_user_id", nil)
	}
	if a == b {
		return newError(ErrorInvalidInput, "self_conversation", nil)
	}
	return nil
}

// ResolveConversationID returns the id of the conversation between a and b,
// creating it when none exists. The result does not depend on argument order,
// and concurrent callers for the same pair agree on one id: the lookup row is
// inserted conditionally and a loser adopts the winner's id.
func (s *Service) ResolveConversationID(ctx context.Context, a, b int64) (int64, error) {
	if err := validatePair(a, b); err != nil {
		return 0, err
	}
	lo, hi := domain.CanonicalPair(a, b)

	id, err := s.store.GetConversationID(ctx, lo, hi)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, storageError("lookup_read_error", err)
	}

	id, err = s.store.NextConversationID(ctx)
	if err != nil {
		return 0, storageError("id_allocation_error", err)
	}

	if err := s.store.CreateConversationLookup(ctx, lo, hi, id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.log.Info("conversation creation raced, adopting existing id", "user1_id", lo, "user2_id", hi, "discarded_id", id)
			return s.readWinner(ctx, lo, hi)
		}
		return 0, storageError("lookup_write_error", err)
	}

	conv := domain.Conversation{ID: id, User1ID: lo, User2ID: hi, CreatedAt: s.now().UTC()}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return 0, storageError("metadata_write_error", err)
	}
	s.log.Info("conversation created", "conversation_id", id, "user1_id", lo, "user2_id", hi)
	return id, nil
}

// readWinner re-reads the lookup row after losing the creation race.
func (s *Service) readWinner(ctx context.Context, lo, hi int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.VisibilityRetries; attempt++ {
		if attempt > 0 {
			if err := s.wait(ctx); err != nil {
				return 0, storageError("lookup_reread_error", err)
			}
		}
		id, err := s.store.GetConversationID(ctx, lo, hi)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, storageError("lookup_reread_error", err)
		}
		lastErr = err
	}
	return 0, newError(ErrorTransientStorage, "lookup_not_visible", lastErr)
}

// ResolveOrCreateConversation resolves the conversation between a and b and
// returns its metadata. A metadata row that is missing right after resolution
// is treated as not yet visible: it is re-read a bounded number of times,
// then rewritten idempotently, and only then reported as a transient failure.
func (s *Service) ResolveOrCreateConversation(ctx context.Context, a, b int64) (domain.Conversation, error) {
	id, err := s.ResolveConversationID(ctx, a, b)
	if err != nil {
		return domain.Conversation{}, err
	}

	conv, err := s.awaitConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Conversation{}, storageError("metadata_read_error", err)
	}

	lo, hi := domain.CanonicalPair(a, b)
	s.log.Warn("conversation metadata missing after resolution, repairing", "conversation_id", id)
	repair := domain.Conversation{ID: id, User1ID: lo, User2ID: hi, CreatedAt: s.now().UTC()}
	if err := s.store.CreateConversation(ctx, repair); err != nil {
		return domain.Conversation{}, storageError("metadata_repair_error", err)
	}
	conv, err = s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorTransientStorage, "conversation_not_visible", err)
		}
		return domain.Conversation{}, storageError("metadata_read_error", err)
	}
	return conv, nil
}

func (s *Service) awaitConversation(ctx context.Context, id int64) (domain.Conversation, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.VisibilityRetries; attempt++ {
		if attempt > 0 {
			if err := s.wait(ctx); err != nil {
				return domain.Conversation{}, err
			}
		}
		conv, err := s.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, err
		}
		lastErr = err
	}
	return domain.Conversation{}, lastErr
}
