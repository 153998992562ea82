package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"messenger/internal/domain"
)

const (
	defaultPageLimit         = 20
	defaultMaxPageLimit      = 100
	defaultMaxContentLength  = 4000
	defaultVisibilityRetries = 3
	defaultRetryDelay        = 50 * time.Millisecond
	defaultFanoutTimeout     = 5 * time.Second
)

// Store is the persistence contract of the messenger core. Lookups and
// metadata reads must be strongly consistent; PutMessage, PutSummary and
// TouchConversation must be idempotent.
type Store interface {
	GetConversationID(ctx context.Context, lo, hi int64) (int64, error)
	NextConversationID(ctx context.Context) (int64, error)
	CreateConversationLookup(ctx context.Context, lo, hi, conversationID int64) error
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, conversationID int64) (domain.Conversation, error)
	PutMessage(ctx context.Context, msg domain.Message) error
	PutSummary(ctx context.Context, s domain.ConversationSummary) error
	TouchConversation(ctx context.Context, lo, hi int64, msg domain.Message) error
	QueryMessages(ctx context.Context, conversationID int64, r domain.MessageRange) ([]domain.Message, error)
	QuerySummaries(ctx context.Context, userID int64, r domain.SummaryRange) ([]domain.ConversationSummary, error)
}

// Config tunes the Service. Zero values select defaults.
type Config struct {
	DefaultPageLimit int
	MaxPageLimit     int
	MaxContentLength int
	// VisibilityRetries bounds re-reads of rows another writer just created.
	VisibilityRetries int
	RetryDelay        time.Duration
	// FanoutTimeout bounds summary maintenance after the message is stored.
	FanoutTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultPageLimit <= 0 {
		c.DefaultPageLimit = defaultPageLimit
	}
	if c.MaxPageLimit <= 0 {
		c.MaxPageLimit = defaultMaxPageLimit
	}
	if c.DefaultPageLimit > c.MaxPageLimit {
		c.DefaultPageLimit = c.MaxPageLimit
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = defaultMaxContentLength
	}
	if c.VisibilityRetries <= 0 {
		c.VisibilityRetries = defaultVisibilityRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.FanoutTimeout <= 0 {
		c.FanoutTimeout = defaultFanoutTimeout
	}
	return c
}

// Service implements conversation resolution, the message write fanout and
// the paginated read paths on top of a Store.
type Service struct {
	store Store
	log   *slog.Logger
	cfg   Config

	now   func() time.Time
	newID func() string

	clockMu sync.Mutex
	lastTS  time.Time
}

func NewService(store Store, log *slog.Logger, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		log:   log,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		newID: newMessageID,
	}, nil
}

// nextTimestamp returns the current UTC time, bumped when needed so that
// successive calls are strictly increasing within the process.
func (s *Service) nextTimestamp() time.Time {
	now := s.now().UTC()
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

func (s *Service) pageLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPageLimit
	}
	if limit > s.cfg.MaxPageLimit {
		return s.cfg.MaxPageLimit
	}
	return limit
}

func (s *Service) wait(ctx context.Context) error {
	t := time.NewTimer(s.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var newMessageID = func() string {
	return ulid.Make().String()
}
