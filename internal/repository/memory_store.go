package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"messenger/internal/domain"
)

type pairKey struct{ lo, hi int64 }

type summaryID struct{ user, conversation int64 }

// MemoryStore is an in-process store with the same semantics as Client:
// conditional lookup insert, idempotent message append and last-write-wins
// summaries. It is meant for local runs and tests.
type MemoryStore struct {
	mu            sync.Mutex
	seq           int64
	lookups       map[pairKey]int64
	conversations map[int64]domain.Conversation
	lastKeys      map[int64]string
	messages      map[int64][]domain.Message
	summaries     map[summaryID]domain.ConversationSummary
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lookups:       make(map[pairKey]int64),
		conversations: make(map[int64]domain.Conversation),
		lastKeys:      make(map[int64]string),
		messages:      make(map[int64][]domain.Message),
		summaries:     make(map[summaryID]domain.ConversationSummary),
	}
}

func (s *MemoryStore) GetConversationID(ctx context.Context, lo, hi int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookups[pairKey{lo, hi}]
	if !ok {
		return 0, fmt.Errorf("memory: GetConversationID: %w", domain.ErrNotFound)
	}
	return id, nil
}

func (s *MemoryStore) NextConversationID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) CreateConversationLookup(ctx context.Context, lo, hi, conversationID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{lo, hi}
	if _, ok := s.lookups[k]; ok {
		return fmt.Errorf("memory: CreateConversationLookup: %w", domain.ErrConflict)
	}
	s.lookups[k] = conversationID
	return nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv.ID <= 0 {
		return errors.New("memory: CreateConversation: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; !ok {
		s.conversations[conv.ID] = conv
	}
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID int64) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("memory: GetConversation: %w", domain.ErrNotFound)
	}
	return conv, nil
}

func (s *MemoryStore) PutMessage(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" || msg.ConversationID <= 0 || msg.CreatedAt.IsZero() {
		return errors.New("memory: PutMessage: id, conversation id and created_at are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[msg.ConversationID] {
		if m.ID == msg.ID {
			return nil
		}
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) PutSummary(ctx context.Context, sum domain.ConversationSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := summaryID{sum.UserID, sum.ConversationID}
	if cur, ok := s.summaries[id]; ok && summaryVersionKey(cur) >= summaryVersionKey(sum) {
		return nil
	}
	s.summaries[id] = sum
	return nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, lo, hi int64, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := conversationLastKey(msg.Key())
	if cur, ok := s.lastKeys[msg.ConversationID]; ok && cur >= k {
		return nil
	}
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		conv = domain.Conversation{ID: msg.ConversationID, User1ID: lo, User2ID: hi, CreatedAt: msg.CreatedAt}
	}
	at := msg.CreatedAt
	conv.LastMessageAt = &at
	conv.LastMessageContent = msg.Content
	s.conversations[msg.ConversationID] = conv
	s.lastKeys[msg.ConversationID] = k
	return nil
}

func (s *MemoryStore) QueryMessages(ctx context.Context, conversationID int64, r domain.MessageRange) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Limit <= 0 {
		return nil, errors.New("memory: QueryMessages: limit must be positive")
	}
	upper, bounded := messageUpperBound(r)

	s.mu.Lock()
	msgs := make([]domain.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		if bounded && msgSK(m.Key()) >= upper {
			continue
		}
		msgs = append(msgs, m)
	}
	s.mu.Unlock()

	sort.Slice(msgs, func(i, j int) bool {
		return msgSK(msgs[i].Key()) > msgSK(msgs[j].Key())
	})
	if len(msgs) > r.Limit {
		msgs = msgs[:r.Limit]
	}
	return msgs, nil
}

func (s *MemoryStore) QuerySummaries(ctx context.Context, userID int64, r domain.SummaryRange) ([]domain.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Limit <= 0 {
		return nil, errors.New("memory: QuerySummaries: limit must be positive")
	}
	var upper string
	if r.StartAfter != nil {
		upper = summaryLastKey(*r.StartAfter)
	}

	s.mu.Lock()
	var out []domain.ConversationSummary
	for id, sum := range s.summaries {
		if id.user != userID {
			continue
		}
		if upper != "" && summaryVersionKey(sum) >= upper {
			continue
		}
		out = append(out, sum)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return summaryVersionKey(out[i]) > summaryVersionKey(out[j])
	})
	if len(out) > r.Limit {
		out = out[:r.Limit]
	}
	return out, nil
}
