package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

func TestSendMessage_UpdatesBothViews(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(t, store, Config{})
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Positive(t, msg.ConversationID)

	page, err := svc.ListUserConversations(ctx, 9, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, int64(5), page.Conversations[0].OtherUserID)
	require.Equal(t, "hello", page.Conversations[0].LastMessageContent)
	require.Equal(t, msg.ConversationID, page.Conversations[0].ConversationID)

	page, err = svc.ListUserConversations(ctx, 5, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, int64(9), page.Conversations[0].OtherUserID)

	conv, err := svc.GetConversation(ctx, msg.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "hello", conv.LastMessageContent)
	require.True(t, msg.CreatedAt.Equal(conv.LastUpdated()))

	msgs, err := svc.ListConversationMessages(ctx, msg.ConversationID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, msg.ID, msgs.Messages[0].ID)
}

func TestSendMessage_BothDirectionsShareConversation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	a, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "ping"})
	require.NoError(t, err)
	b, err := svc.SendMessage(ctx, SendInput{SenderID: 9, ReceiverID: 5, Content: "pong"})
	require.NoError(t, err)
	require.Equal(t, a.ConversationID, b.ConversationID)
	require.True(t, b.CreatedAt.After(a.CreatedAt))

	page, err := svc.ListUserConversations(ctx, 5, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, "pong", page.Conversations[0].LastMessageContent)
}

func TestSendMessage_WithConversationID(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, 5, 9)
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 9, ReceiverID: 5, Content: "hi", ConversationID: &conv.ID})
	require.NoError(t, err)
	require.Equal(t, conv.ID, msg.ConversationID)

	_, err = svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 7, Content: "hi", ConversationID: &conv.ID})
	requireCode(t, err, ErrorInvalidInput, "participant_mismatch")

	missing := conv.ID + 100
	_, err = svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "hi", ConversationID: &missing})
	require.Equal(t, ErrorNotFound, CodeOf(err))
}

func TestSendMessage_Validation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{MaxContentLength: 5})
	ctx := context.Background()

	tests := []struct {
		name   string
		in     SendInput
		reason string
	}{
		{"self", SendInput{SenderID: 5, ReceiverID: 5, Content: "hi"}, "self_conversation"},
		{"missing sender", SendInput{ReceiverID: 5, Content: "hi"}, "invalid_user_id"},
		{"empty", SendInput{SenderID: 5, ReceiverID: 9, Content: ""}, "empty_content"},
		{"whitespace", SendInput{SenderID: 5, ReceiverID: 9, Content: " \n\t "}, "empty_content"},
		{"too long", SendInput{SenderID: 5, ReceiverID: 9, Content: "héllo!"}, "content_too_long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := svc.SendMessage(ctx, tt.in)
			requireCode(t, err, ErrorInvalidInput, tt.reason)
			require.Empty(t, msg.ID)
		})
	}

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "héllo"})
	require.NoError(t, err)
	require.Equal(t, "héllo", msg.Content)
}

func TestSendMessage_KeepsContentVerbatim(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	msg, err := svc.SendMessage(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "  spaced  "})
	require.NoError(t, err)
	require.Equal(t, "  spaced  ", msg.Content)
}

func TestSendMessage_MessageWriteFailure(t *testing.T) {
	store := newHookStore()
	store.putMessage = func(context.Context, domain.Message) error {
		return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	}
	svc := newTestService(t, store, Config{})

	msg, err := svc.SendMessage(context.Background(), SendInput{SenderID: 5, ReceiverID: 9, Content: "hi"})
	requireCode(t, err, ErrorTransientStorage, "message_write_error")
	require.Empty(t, msg.ID)

	page, err := svc.ListUserConversations(context.Background(), 5, PageRequest{})
	require.NoError(t, err)
	require.Empty(t, page.Conversations)
}

func TestSendMessage_FanoutFailureReturnsStoredMessage(t *testing.T) {
	store := newHookStore()
	store.summaryErrFor = map[int64]error{9: errors.New("throttled")}
	svc := newTestService(t, store, Config{})
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "hello"})
	requireCode(t, err, ErrorTransientStorage, "fanout_incomplete")
	require.True(t, IsRetryable(err))
	require.NotEmpty(t, msg.ID)

	// The log and the unaffected views were still written.
	msgs, err := svc.ListConversationMessages(ctx, msg.ConversationID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 1)
	sender, err := svc.ListUserConversations(ctx, 5, PageRequest{})
	require.NoError(t, err)
	require.Len(t, sender.Conversations, 1)
	receiver, err := svc.ListUserConversations(ctx, 9, PageRequest{})
	require.NoError(t, err)
	require.Empty(t, receiver.Conversations)

	store.summaryErrFor = nil
	require.NoError(t, svc.RepairFanout(ctx, msg))

	receiver, err = svc.ListUserConversations(ctx, 9, PageRequest{})
	require.NoError(t, err)
	require.Len(t, receiver.Conversations, 1)
	require.Equal(t, "hello", receiver.Conversations[0].LastMessageContent)
}

func TestSendMessage_FanoutSurvivesCallerCancellation(t *testing.T) {
	store := newHookStore()
	ctx, cancel := context.WithCancel(context.Background())
	store.putMessage = func(c context.Context, msg domain.Message) error {
		err := store.MemoryStore.PutMessage(c, msg)
		cancel()
		return err
	}
	svc := newTestService(t, store, Config{})

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "hello"})
	require.NoError(t, err)

	page, err := svc.ListUserConversations(context.Background(), 9, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, msg.ConversationID, page.Conversations[0].ConversationID)
}

func TestRepairFanout_NeverMovesBackwards(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "first"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendInput{SenderID: 9, ReceiverID: 5, Content: "second"})
	require.NoError(t, err)

	require.NoError(t, svc.RepairFanout(ctx, first))

	page, err := svc.ListUserConversations(ctx, 5, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, "second", page.Conversations[0].LastMessageContent)
	conv, err := svc.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "second", conv.LastMessageContent)
}

func TestFanout_SameInstantViewsAgree(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(t, store, Config{})
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, 5, 9)
	require.NoError(t, err)
	// Two processes stamped these messages with the same instant.
	a := domain.Message{ID: "01HXA", ConversationID: conv.ID, SenderID: 5, ReceiverID: 9, Content: "from a", CreatedAt: t0.Add(time.Hour)}
	b := domain.Message{ID: "01HXB", ConversationID: conv.ID, SenderID: 9, ReceiverID: 5, Content: "from b", CreatedAt: a.CreatedAt}

	require.NoError(t, svc.RepairFanout(ctx, b))
	require.NoError(t, svc.RepairFanout(ctx, a))

	meta, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	for _, user := range []int64{5, 9} {
		page, err := svc.ListUserConversations(ctx, user, PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Conversations, 1)
		require.Equal(t, meta.LastMessageContent, page.Conversations[0].LastMessageContent)
		require.Equal(t, "01HXB", page.Conversations[0].LastMessageID)
	}
	require.Equal(t, "from b", meta.LastMessageContent)
}

func TestRepairFanout_Validation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	err := svc.RepairFanout(context.Background(), domain.Message{ConversationID: 1, CreatedAt: t0})
	requireCode(t, err, ErrorInvalidInput, "incomplete_message")
}

func TestRepairFanout_StillFailing(t *testing.T) {
	store := newHookStore()
	store.touchErr = repository.ErrUnavailable
	svc := newTestService(t, store, Config{})

	msg := domain.Message{ID: "x", ConversationID: 1, SenderID: 5, ReceiverID: 9, Content: "hi", CreatedAt: t0}
	err := svc.RepairFanout(context.Background(), msg)
	requireCode(t, err, ErrorTransientStorage, "fanout_repair_error")
}

func TestReconcileConversation(t *testing.T) {
	store := newHookStore()
	store.summaryErrFor = map[int64]error{5: errors.New("throttled"), 9: errors.New("throttled")}
	svc := newTestService(t, store, Config{})
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: "lost"})
	require.Error(t, err)

	store.summaryErrFor = nil
	require.NoError(t, svc.ReconcileConversation(ctx, msg.ConversationID))

	for _, user := range []int64{5, 9} {
		page, err := svc.ListUserConversations(ctx, user, PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Conversations, 1)
		require.Equal(t, "lost", page.Conversations[0].LastMessageContent)
	}
}

func TestReconcileConversation_EmptyLog(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	require.NoError(t, svc.ReconcileConversation(context.Background(), 42))

	err := svc.ReconcileConversation(context.Background(), 0)
	requireCode(t, err, ErrorInvalidInput, "invalid_conversation_id")
}

func TestFanout_BoundedByTimeout(t *testing.T) {
	blocked := make(chan struct{})
	defer close(blocked)
	store := &slowSummaryStore{hookStore: newHookStore(), release: blocked}
	svc := newTestService(t, store, Config{FanoutTimeout: 20 * time.Millisecond})

	msg := domain.Message{ID: "x", ConversationID: 1, SenderID: 5, ReceiverID: 9, Content: "hi", CreatedAt: t0}
	err := svc.RepairFanout(context.Background(), msg)
	requireCode(t, err, ErrorTransientStorage, "fanout_repair_error")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type slowSummaryStore struct {
	*hookStore
	release chan struct{}
}

func (s *slowSummaryStore) PutSummary(ctx context.Context, _ domain.ConversationSummary) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

func TestSendMessage_LongConversation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.SendMessage(ctx, SendInput{SenderID: 5, ReceiverID: 9, Content: strings.Repeat("x", i+1)})
		require.NoError(t, err)
	}
	page, err := svc.ListUserConversations(ctx, 9, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, "xxx", page.Conversations[0].LastMessageContent)
}
