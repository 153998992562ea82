package repository

import (
	"fmt"
	"time"

	"messenger/internal/domain"
)

const (
	pkPrefixConv    = "CONV#"
	pkPrefixUser    = "USER#"
	pkPrefixMeta    = "META#"
	pkPrefixPair    = "PAIR#"
	skPrefixMsg     = "MSG#"
	skPrefixConv    = "CONV#"
	skMeta          = "META#"
	skLookup        = "LOOKUP#"
	counterPK       = "COUNTER#conversation"
	counterSK       = "COUNTER#"
	sortableTimeFmt = "2006-01-02T15:04:05.000000000Z"
)

// sortableTime renders t as fixed-width UTC so that string order matches time order.
// RFC3339Nano trims trailing zeros and cannot be used in sort keys.
func sortableTime(t time.Time) string {
	return t.UTC().Format(sortableTimeFmt)
}

// convPK returns the partition key of a conversation's message log.
func convPK(conversationID int64) string {
	return fmt.Sprintf("%s%d", pkPrefixConv, conversationID)
}

// userPK returns the partition key of a user's conversation list.
func userPK(userID int64) string {
	return fmt.Sprintf("%s%d", pkPrefixUser, userID)
}

// metaPK returns the partition key of a conversation's metadata record.
func metaPK(conversationID int64) string {
	return fmt.Sprintf("%s%d", pkPrefixMeta, conversationID)
}

// pairPK returns the partition key of the lookup row for a canonical pair.
func pairPK(lo, hi int64) string {
	return fmt.Sprintf("%s%d#%d", pkPrefixPair, lo, hi)
}

// msgSK returns the message sort key: creation time then message id.
func msgSK(key domain.MessageKey) string {
	return skPrefixMsg + sortableTime(key.CreatedAt) + "#" + key.MessageID
}

// msgUpperBound returns the smallest sort key that is not older than t.
func msgUpperBound(t time.Time) string {
	return skPrefixMsg + sortableTime(t)
}

func summarySK(conversationID int64) string {
	return fmt.Sprintf("%s%d", skPrefixConv, conversationID)
}

// summaryLastKey is the ordering prefix of a summary row. The conversation id
// is zero padded so ties on time order by conversation id. Used alone it is
// the exclusive upper bound of a resumed page.
func summaryLastKey(key domain.SummaryKey) string {
	return fmt.Sprintf("%s#%019d", sortableTime(key.LastMessageAt), key.ConversationID)
}

// summaryVersionKey is the stored LSI sort key of a summary row. The message
// id orders two messages of one conversation sent in the same instant the
// same way conversationLastKey does, so summaries and metadata settle on the
// same last message.
func summaryVersionKey(s domain.ConversationSummary) string {
	return summaryLastKey(s.Key()) + "#" + s.LastMessageID
}

// conversationLastKey orders updates of the conversation metadata.
func conversationLastKey(key domain.MessageKey) string {
	return sortableTime(key.CreatedAt) + "#" + key.MessageID
}
