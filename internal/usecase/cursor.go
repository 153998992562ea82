package usecase

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"messenger/internal/domain"
)

const (
	cursorKindMessage = "m"
	cursorKindSummary = "c"
)

// cursor is the decoded form of the opaque continuation token: the ordering
// key of the last row on the previous page.
type cursor struct {
	Kind           string    `json:"k"`
	At             time.Time `json:"t"`
	MessageID      string    `json:"m,omitempty"`
	ConversationID int64     `json:"c,omitempty"`
}

var errBadCursor = errors.New("malformed cursor")

func encodeCursor(c cursor) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(token, kind string) (cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, errBadCursor
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return cursor{}, errBadCursor
	}
	if c.Kind != kind || c.At.IsZero() {
		return cursor{}, errBadCursor
	}
	return c, nil
}

func messageCursor(k domain.MessageKey) string {
	return encodeCursor(cursor{Kind: cursorKindMessage, At: k.CreatedAt.UTC(), MessageID: k.MessageID})
}

func summaryCursor(k domain.SummaryKey) string {
	return encodeCursor(cursor{Kind: cursorKindSummary, At: k.LastMessageAt.UTC(), ConversationID: k.ConversationID})
}

func decodeMessageCursor(token string) (*domain.MessageKey, error) {
	if token == "" {
		return nil, nil
	}
	c, err := decodeCursor(token, cursorKindMessage)
	if err != nil {
		return nil, err
	}
	if c.MessageID == "" {
		return nil, errBadCursor
	}
	return &domain.MessageKey{CreatedAt: c.At, MessageID: c.MessageID}, nil
}

func decodeSummaryCursor(token string) (*domain.SummaryKey, error) {
	if token == "" {
		return nil, nil
	}
	c, err := decodeCursor(token, cursorKindSummary)
	if err != nil {
		return nil, err
	}
	if c.ConversationID <= 0 {
		return nil, errBadCursor
	}
	return &domain.SummaryKey{LastMessageAt: c.At, ConversationID: c.ConversationID}, nil
}
