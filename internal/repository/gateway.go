package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConnectAttempts   = 30
	defaultConnectMaxBackoff = 5 * time.Second
)

// Connector establishes a connection to the data store.
type Connector func(ctx context.Context) (DynamoDBAPI, error)

// Gateway is the process-wide handle to DynamoDB. It connects lazily on first
// use, retries connection establishment with backoff, and is safe for
// concurrent use. Create one per process, inject it into New, and Close it on
// shutdown.
//
// Concurrent callers share a single connection attempt. The attempt runs on
// the gateway's lifetime rather than any caller's context, so a caller whose
// context ends stops waiting without aborting the attempt for the others.
type Gateway struct {
	connect  Connector
	attempts int
	backoff  retry.BackoffDelayer
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	flight singleflight.Group
	done   context.Context
	stop   context.CancelFunc

	mu     sync.RWMutex
	api    DynamoDBAPI
	closed bool
}

type GatewayOption func(*Gateway)

func WithConnectAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.attempts = n
		}
	}
}

func WithConnectBackoff(maxBackoff time.Duration) GatewayOption {
	return func(g *Gateway) {
		if maxBackoff > 0 {
			g.backoff = retry.NewExponentialJitterBackoff(maxBackoff)
		}
	}
}

func WithLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// NewGateway creates a Gateway. No connection is made until the first call.
func NewGateway(connect Connector, opts ...GatewayOption) (*Gateway, error) {
	if connect == nil {
		return nil, errors.New("repository: connector must not be nil")
	}
	g := &Gateway{
		connect:  connect,
		attempts: defaultConnectAttempts,
		backoff:  retry.NewExponentialJitterBackoff(defaultConnectMaxBackoff),
		log:      slog.Default(),
		sleep:    sleepContext,
	}
	g.done, g.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewSDKConnector returns a Connector that builds a DynamoDB client from the
// default AWS configuration and checks that every table is reachable. A
// non-empty endpoint overrides the service endpoint (e.g. DynamoDB Local).
func NewSDKConnector(tables Tables, endpoint string, optFns ...func(*config.LoadOptions) error) Connector {
	return func(ctx context.Context) (DynamoDBAPI, error) {
		cfg, err := config.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		for _, name := range tables.Names() {
			if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}); err != nil {
				return nil, fmt.Errorf("describe table %q: %w", name, err)
			}
		}
		return client, nil
	}
}

// Connect establishes the connection eagerly. It is optional; every
// operation connects on demand.
func (g *Gateway) Connect(ctx context.Context) error {
	_, err := g.client(ctx)
	return err
}

// Close releases the connection. Subsequent calls fail with ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.api = nil
	g.stop()
	g.log.Info("dynamodb gateway closed")
	return nil
}

func (g *Gateway) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	api, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	return api.GetItem(ctx, in, optFns...)
}

func (g *Gateway) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	api, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	return api.PutItem(ctx, in, optFns...)
}

func (g *Gateway) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	api, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	return api.UpdateItem(ctx, in, optFns...)
}

func (g *Gateway) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	api, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	return api.Query(ctx, in, optFns...)
}

func (g *Gateway) client(ctx context.Context) (DynamoDBAPI, error) {
	if api, err := g.current(); api != nil || err != nil {
		return api, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}

	ch := g.flight.DoChan("connect", func() (any, error) { return g.connectShared() })
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("repository: connect: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(DynamoDBAPI), nil
	}
}

// current returns the established client, ErrGatewayClosed, or neither.
func (g *Gateway) current() (DynamoDBAPI, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return nil, ErrGatewayClosed
	}
	return g.api, nil
}

func (g *Gateway) connectShared() (DynamoDBAPI, error) {
	if api, err := g.current(); api != nil || err != nil {
		return api, err
	}
	api, err := g.connectWithRetry(g.done)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGatewayClosed
	}
	if err != nil {
		return nil, err
	}
	g.api = api
	return api, nil
}

func (g *Gateway) connectWithRetry(ctx context.Context) (DynamoDBAPI, error) {
	for attempt := 1; ; attempt++ {
		api, err := g.connect(ctx)
		if err == nil {
			g.log.Info("connected to dynamodb", "attempt", attempt)
			return api, nil
		}
		if attempt >= g.attempts {
			g.log.Error("exceeded max connection attempts", "attempts", attempt, "err", err)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		delay, derr := g.backoff.BackoffDelay(attempt, err)
		if derr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		g.log.Warn("dynamodb connection failed, retrying", "attempt", attempt, "delay", delay, "err", err)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("repository: connect: %w", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
