package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"messenger/internal/domain"
)

var (
	// ErrGatewayClosed is returned by a Gateway after Close.
	ErrGatewayClosed = errors.New("repository: gateway closed")
	// ErrUnavailable marks failures to reach the data store at all.
	ErrUnavailable = errors.New("repository: store unavailable")
)

var retryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// wrap annotates err with the operation name and maps a failed write
// condition to domain.ErrConflict.
func wrap(op string, err error) error {
	if isConditionFailed(err) {
		return fmt.Errorf("repository: %s: %w: %w", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("repository: %s: %w", op, err)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// IsTransient reports whether err is a storage failure worth retrying:
// throttling, timeouts, connection errors and server-side faults.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
	)
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) {
		return true
	}
	return retryables.IsErrorRetryable(err) == aws.TrueTernary
}
