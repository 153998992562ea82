package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

func sendN(t *testing.T, svc *Service, from, to int64, n int) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := svc.SendMessage(context.Background(), SendInput{SenderID: from, ReceiverID: to, Content: string(rune('a' + i))})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestListConversationMessages_NewestFirst(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sent := sendN(t, svc, 5, 9, 3)

	page, err := svc.ListConversationMessages(context.Background(), sent[0].ConversationID, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{sent[2].ID, sent[1].ID, sent[0].ID}, ids(page.Messages))
	require.False(t, page.HasMore)
	require.Empty(t, page.NextCursor)
}

func TestListConversationMessages_PagesWithCursor(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sent := sendN(t, svc, 5, 9, 5)
	cid := sent[0].ConversationID
	ctx := context.Background()

	var (
		got     []string
		cursor  string
		hasMore []bool
	)
	for {
		page, err := svc.ListConversationMessages(ctx, cid, PageRequest{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Messages), 2)
		got = append(got, ids(page.Messages)...)
		hasMore = append(hasMore, page.HasMore)
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, []bool{true, true, false}, hasMore)
	require.Equal(t, []string{sent[4].ID, sent[3].ID, sent[2].ID, sent[1].ID, sent[0].ID}, got)
}

func TestListConversationMessages_FullLastPageReportsMore(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sent := sendN(t, svc, 5, 9, 2)
	ctx := context.Background()

	page, err := svc.ListConversationMessages(ctx, sent[0].ConversationID, PageRequest{Limit: 2})
	require.NoError(t, err)
	require.True(t, page.HasMore)

	next, err := svc.ListConversationMessages(ctx, sent[0].ConversationID, PageRequest{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Empty(t, next.Messages)
	require.False(t, next.HasMore)
}

func TestListConversationMessages_ClampsLimit(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{DefaultPageLimit: 2, MaxPageLimit: 3})
	sent := sendN(t, svc, 5, 9, 5)
	ctx := context.Background()

	page, err := svc.ListConversationMessages(ctx, sent[0].ConversationID, PageRequest{Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)

	page, err = svc.ListConversationMessages(ctx, sent[0].ConversationID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
}

func TestListConversationMessages_UnknownConversationIsEmpty(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	page, err := svc.ListConversationMessages(context.Background(), 404, PageRequest{})
	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.False(t, page.HasMore)
}

func TestListConversationMessages_InvalidInput(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	_, err := svc.ListConversationMessages(ctx, 0, PageRequest{})
	requireCode(t, err, ErrorInvalidInput, "invalid_conversation_id")

	_, err = svc.ListConversationMessages(ctx, 1, PageRequest{Cursor: "%%%"})
	requireCode(t, err, ErrorInvalidInput, "invalid_cursor")

	wrongKind := summaryCursor(domain.SummaryKey{LastMessageAt: t0, ConversationID: 1})
	_, err = svc.ListConversationMessages(ctx, 1, PageRequest{Cursor: wrongKind})
	requireCode(t, err, ErrorInvalidInput, "invalid_cursor")
}

func TestListConversationMessages_StorageFailure(t *testing.T) {
	store := newHookStore()
	store.queryErr = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	svc := newTestService(t, store, Config{})

	_, err := svc.ListConversationMessages(context.Background(), 1, PageRequest{})
	requireCode(t, err, ErrorTransientStorage, "message_read_error")
}

func TestListMessagesBefore_StrictBound(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sent := sendN(t, svc, 5, 9, 5)
	cid := sent[0].ConversationID

	page, err := svc.ListMessagesBefore(context.Background(), cid, sent[2].CreatedAt, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{sent[1].ID, sent[0].ID}, ids(page.Messages))
}

func TestListMessagesBefore_PagesWithinBound(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sent := sendN(t, svc, 5, 9, 5)
	cid := sent[0].ConversationID
	ctx := context.Background()

	first, err := svc.ListMessagesBefore(ctx, cid, sent[4].CreatedAt, PageRequest{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{sent[3].ID, sent[2].ID}, ids(first.Messages))
	require.True(t, first.HasMore)

	second, err := svc.ListMessagesBefore(ctx, cid, sent[4].CreatedAt, PageRequest{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Equal(t, []string{sent[1].ID, sent[0].ID}, ids(second.Messages))
}

func TestListMessagesBefore_RequiresTimestamp(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	_, err := svc.ListMessagesBefore(context.Background(), 1, time.Time{}, PageRequest{})
	requireCode(t, err, ErrorInvalidInput, "missing_before_timestamp")
}

func TestListUserConversations_MostRecentFirst(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	sendN(t, svc, 1, 2, 1)
	sendN(t, svc, 1, 3, 1)
	sendN(t, svc, 4, 1, 1)
	sendN(t, svc, 2, 1, 2)

	page, err := svc.ListUserConversations(context.Background(), 1, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 3)

	var others []int64
	for _, s := range page.Conversations {
		require.Equal(t, int64(1), s.UserID)
		others = append(others, s.OtherUserID)
	}
	require.Equal(t, []int64{2, 4, 3}, others)
	require.Equal(t, "b", page.Conversations[0].LastMessageContent)
}

func TestListUserConversations_PagesWithCursor(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	for other := int64(2); other <= 6; other++ {
		sendN(t, svc, 1, other, 1)
	}
	ctx := context.Background()

	var (
		others []int64
		cursor string
	)
	for {
		page, err := svc.ListUserConversations(ctx, 1, PageRequest{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, s := range page.Conversations {
			others = append(others, s.OtherUserID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, []int64{6, 5, 4, 3, 2}, others)
}

func TestListUserConversations_InvalidInput(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	_, err := svc.ListUserConversations(ctx, -1, PageRequest{})
	requireCode(t, err, ErrorInvalidInput, "invalid_user_id")

	wrongKind := messageCursor(domain.MessageKey{CreatedAt: t0, MessageID: "x"})
	_, err = svc.ListUserConversations(ctx, 1, PageRequest{Cursor: wrongKind})
	requireCode(t, err, ErrorInvalidInput, "invalid_cursor")
}

func TestGetConversation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), Config{})
	ctx := context.Background()

	_, err := svc.GetConversation(ctx, 1)
	requireCode(t, err, ErrorNotFound, "conversation_read_error")

	_, err = svc.GetConversation(ctx, 0)
	requireCode(t, err, ErrorInvalidInput, "invalid_conversation_id")

	created, err := svc.ResolveOrCreateConversation(ctx, 5, 9)
	require.NoError(t, err)
	got, err := svc.GetConversation(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.True(t, got.CreatedAt.Equal(got.LastUpdated()))
}
