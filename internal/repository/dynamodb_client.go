package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"messenger/internal/domain"
)

const (
	// DefaultSummaryIndex is the LSI on the summary table sorted by lastKey.
	DefaultSummaryIndex = "lastMessageIndex"

	condNotExists = "attribute_not_exists(PK)"
	condNewerKey  = "attribute_not_exists(lastKey) OR lastKey < :lastKey"
)

// DynamoDBAPI is the minimal DynamoDB interface required by Client.
// *dynamodb.Client and *Gateway both satisfy it.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Tables names the physical tables backing each logical table. Partition key
// prefixes never overlap, so all four may point at the same table.
type Tables struct {
	Messages      string
	Summaries     string
	Conversations string
	Lookups       string
	SummaryIndex  string
}

// SingleTable returns a Tables value that stores everything in one table.
func SingleTable(name string) Tables {
	return Tables{
		Messages:      name,
		Summaries:     name,
		Conversations: name,
		Lookups:       name,
		SummaryIndex:  DefaultSummaryIndex,
	}
}

// Names returns the distinct physical table names.
func (t Tables) Names() []string {
	seen := make(map[string]bool, 4)
	var out []string
	for _, n := range []string{t.Messages, t.Summaries, t.Conversations, t.Lookups} {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (t Tables) validate() error {
	for _, n := range []string{t.Messages, t.Summaries, t.Conversations, t.Lookups, t.SummaryIndex} {
		if strings.TrimSpace(n) == "" {
			return errors.New("repository: table name must not be empty")
		}
	}
	return nil
}

// Client stores conversations and messages in DynamoDB.
type Client struct {
	api    DynamoDBAPI
	tables Tables
}

// New creates a new repository Client.
func New(api DynamoDBAPI, tables Tables) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if tables.SummaryIndex == "" {
		tables.SummaryIndex = DefaultSummaryIndex
	}
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Client{api: api, tables: tables}, nil
}

// GetConversationID reads the lookup row of a canonical pair with a strongly
// consistent read. It returns domain.ErrNotFound when the pair has no conversation.
func (c *Client) GetConversationID(ctx context.Context, lo, hi int64) (int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Lookups),
		Key:            key(pairPK(lo, hi), skLookup),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, wrap("GetConversationID", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, fmt.Errorf("repository: GetConversationID: %w", domain.ErrNotFound)
	}
	id, err := int64Attr(out.Item, "conversationId")
	if err != nil {
		return 0, fmt.Errorf("repository: GetConversationID decode: %w", err)
	}
	return id, nil
}

// NextConversationID allocates a conversation id from the atomic counter item.
func (c *Client) NextConversationID(ctx context.Context) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tables.Conversations),
		Key:              key(counterPK, counterSK),
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numAttr(1),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, wrap("NextConversationID", err)
	}
	if out == nil {
		return 0, errors.New("repository: NextConversationID: empty response")
	}
	id, err := int64Attr(out.Attributes, "seq")
	if err != nil {
		return 0, fmt.Errorf("repository: NextConversationID decode: %w", err)
	}
	return id, nil
}

// CreateConversationLookup inserts the pair lookup only if none exists.
// A lost race is reported as domain.ErrConflict.
func (c *Client) CreateConversationLookup(ctx context.Context, lo, hi, conversationID int64) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Lookups),
		Item: map[string]types.AttributeValue{
			"PK":             strAttrValue(pairPK(lo, hi)),
			"SK":             strAttrValue(skLookup),
			"user1Id":        numAttr(lo),
			"user2Id":        numAttr(hi),
			"conversationId": numAttr(conversationID),
		},
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return wrap("CreateConversationLookup", err)
	}
	return nil
}

// CreateConversation writes the metadata record if it does not exist yet.
// Calling it again for an existing conversation is a no-op.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID <= 0 {
		return errors.New("repository: CreateConversation: conversation id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Conversations),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil && !isConditionFailed(err) {
		return wrap("CreateConversation", err)
	}
	return nil
}

// GetConversation reads the metadata record of a conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID int64) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Conversations),
		Key:            key(metaPK(conversationID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, wrap("GetConversation", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", domain.ErrNotFound)
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return conv, nil
}

// PutMessage appends a message to the conversation log. The sort key carries
// the unique message id, so a failed condition means this exact message is
// already stored and the call succeeds.
func (c *Client) PutMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID <= 0 || msg.CreatedAt.IsZero() {
		return errors.New("repository: PutMessage: id, conversation id and created_at are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Messages),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil && !isConditionFailed(err) {
		return wrap("PutMessage", err)
	}
	return nil
}

// PutSummary overwrites the user's summary row for a conversation unless the
// stored row already reflects a newer or the same message.
func (c *Client) PutSummary(ctx context.Context, s domain.ConversationSummary) error {
	if s.UserID <= 0 || s.ConversationID <= 0 {
		return errors.New("repository: PutSummary: user id and conversation id are required")
	}
	item := summaryItem(s)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Summaries),
		Item:                item,
		ConditionExpression: aws.String(condNewerKey),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lastKey": item["lastKey"],
		},
	})
	if err != nil && !isConditionFailed(err) {
		return wrap("PutSummary", err)
	}
	return nil
}

// TouchConversation records msg as the conversation's last message. Identity
// fields are only set when missing, which also recreates a metadata row whose
// initial write was lost. Stale updates are ignored.
func (c *Client) TouchConversation(ctx context.Context, lo, hi int64, msg domain.Message) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tables.Conversations),
		Key:       key(metaPK(msg.ConversationID), skMeta),
		UpdateExpression: aws.String("SET conversationId = if_not_exists(conversationId, :cid), " +
			"user1Id = if_not_exists(user1Id, :u1), user2Id = if_not_exists(user2Id, :u2), " +
			"createdAt = if_not_exists(createdAt, :createdAt), " +
			"lastMessageAt = :at, lastMessageContent = :content, lastKey = :lastKey"),
		ConditionExpression: aws.String(condNewerKey),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid":       numAttr(msg.ConversationID),
			":u1":        numAttr(lo),
			":u2":        numAttr(hi),
			":createdAt": strAttrValue(formatTime(msg.CreatedAt)),
			":at":        strAttrValue(formatTime(msg.CreatedAt)),
			":content":   strAttrValue(msg.Content),
			":lastKey":   strAttrValue(conversationLastKey(msg.Key())),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return wrap("TouchConversation", err)
	}
	return nil
}

// QueryMessages returns up to r.Limit messages of a conversation, newest first.
func (c *Client) QueryMessages(ctx context.Context, conversationID int64, r domain.MessageRange) ([]domain.Message, error) {
	if r.Limit <= 0 {
		return nil, errors.New("repository: QueryMessages: limit must be positive")
	}
	values := map[string]types.AttributeValue{
		":pk": strAttrValue(convPK(conversationID)),
	}
	cond := "PK = :pk AND begins_with(SK, :prefix)"
	if upper, ok := messageUpperBound(r); ok {
		cond = "PK = :pk AND SK < :upper"
		values[":upper"] = strAttrValue(upper)
	} else {
		values[":prefix"] = strAttrValue(skPrefixMsg)
	}

	items, err := c.query(ctx, "QueryMessages", dynamodb.QueryInput{
		TableName:                 aws.String(c.tables.Messages),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
	}, r.Limit)
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// QuerySummaries returns up to r.Limit summary rows of a user, most recent first.
func (c *Client) QuerySummaries(ctx context.Context, userID int64, r domain.SummaryRange) ([]domain.ConversationSummary, error) {
	if r.Limit <= 0 {
		return nil, errors.New("repository: QuerySummaries: limit must be positive")
	}
	values := map[string]types.AttributeValue{
		":pk": strAttrValue(userPK(userID)),
	}
	cond := "PK = :pk"
	if r.StartAfter != nil {
		cond = "PK = :pk AND lastKey < :upper"
		values[":upper"] = strAttrValue(summaryLastKey(*r.StartAfter))
	}

	items, err := c.query(ctx, "QuerySummaries", dynamodb.QueryInput{
		TableName:                 aws.String(c.tables.Summaries),
		IndexName:                 aws.String(c.tables.SummaryIndex),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
	}, r.Limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSummary, 0, len(items))
	for _, item := range items {
		s, err := itemToSummary(item)
		if err != nil {
			return nil, fmt.Errorf("repository: QuerySummaries unmarshal: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// query collects up to limit items. A single Query call stops at 1 MB of
// data, so it follows LastEvaluatedKey until the page is full or the range
// is exhausted.
func (c *Client) query(ctx context.Context, op string, in dynamodb.QueryInput, limit int) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for len(items) < limit {
		page := in
		page.Limit = aws.Int32(int32(limit - len(items)))
		out, err := c.api.Query(ctx, &page)
		if err != nil {
			return nil, wrap(op, err)
		}
		if out == nil {
			break
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// messageUpperBound returns the tightest exclusive upper sort key implied by
// the Before filter and the resume key.
func messageUpperBound(r domain.MessageRange) (string, bool) {
	var upper string
	if !r.Before.IsZero() {
		upper = msgUpperBound(r.Before)
	}
	if r.StartAfter != nil {
		if sk := msgSK(*r.StartAfter); upper == "" || sk < upper {
			upper = sk
		}
	}
	return upper, upper != ""
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": strAttrValue(pk),
		"SK": strAttrValue(sk),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             strAttrValue(metaPK(conv.ID)),
		"SK":             strAttrValue(skMeta),
		"conversationId": numAttr(conv.ID),
		"user1Id":        numAttr(conv.User1ID),
		"user2Id":        numAttr(conv.User2ID),
		"createdAt":      strAttrValue(formatTime(conv.CreatedAt)),
	}
	if conv.LastMessageAt != nil {
		item["lastMessageAt"] = strAttrValue(formatTime(*conv.LastMessageAt))
		item["lastMessageContent"] = strAttrValue(conv.LastMessageContent)
	}
	return item
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             strAttrValue(convPK(msg.ConversationID)),
		"SK":             strAttrValue(msgSK(msg.Key())),
		"messageId":      strAttrValue(msg.ID),
		"conversationId": numAttr(msg.ConversationID),
		"senderId":       numAttr(msg.SenderID),
		"receiverId":     numAttr(msg.ReceiverID),
		"content":        strAttrValue(msg.Content),
		"createdAt":      strAttrValue(formatTime(msg.CreatedAt)),
	}
}

func summaryItem(s domain.ConversationSummary) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                 strAttrValue(userPK(s.UserID)),
		"SK":                 strAttrValue(summarySK(s.ConversationID)),
		"userId":             numAttr(s.UserID),
		"conversationId":     numAttr(s.ConversationID),
		"otherUserId":        numAttr(s.OtherUserID),
		"lastMessageId":      strAttrValue(s.LastMessageID),
		"lastMessageAt":      strAttrValue(formatTime(s.LastMessageAt)),
		"lastMessageContent": strAttrValue(s.LastMessageContent),
		"lastKey":            strAttrValue(summaryVersionKey(s)),
	}
}

// itemToConversation converts a DynamoDB attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	u1, err := int64Attr(item, "user1Id")
	if err != nil {
		return domain.Conversation{}, err
	}
	u2, err := int64Attr(item, "user2Id")
	if err != nil {
		return domain.Conversation{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	conv := domain.Conversation{ID: id, User1ID: u1, User2ID: u2, CreatedAt: created}
	if _, ok := item["lastMessageAt"]; ok {
		at, err := timeAttr(item, "lastMessageAt")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.LastMessageAt = &at
		conv.LastMessageContent, _ = strAttr(item, "lastMessageContent") // allow empty
	}
	return conv, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	cid, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := int64Attr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	receiver, err := int64Attr(item, "receiverId")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		ConversationID: cid,
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		CreatedAt:      created,
	}, nil
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	uid, err := int64Attr(item, "userId")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	cid, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	other, err := int64Attr(item, "otherUserId")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	at, err := timeAttr(item, "lastMessageAt")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	content, _ := strAttr(item, "lastMessageContent") // allow empty
	msgID, _ := strAttr(item, "lastMessageId")
	return domain.ConversationSummary{
		UserID:             uid,
		ConversationID:     cid,
		OtherUserID:        other,
		LastMessageID:      msgID,
		LastMessageAt:      at,
		LastMessageContent: content,
	}, nil
}

func strAttrValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func numAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
