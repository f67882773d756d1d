package events

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-shop-cache/domain"
)

// Publisher hands envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// HandlerFunc processes one delivered envelope.
type HandlerFunc func(ctx context.Context, env Envelope) (State, error)

// IsPermanent reports whether err must not be retried. Consistency faults
// and malformed events go to the dead letter destination instead, unless
// they were marked with Retryable.
func IsPermanent(err error) bool {
	var r *goerrors.RetryableError
	if errors.As(err, &r) {
		return !r.IsRetryable()
	}
	switch domain.KindOf(err) {
	case domain.KindConsistencyFault, domain.KindValidation:
		return true
	default:
		return false
	}
}

// Retryable marks err for redelivery even when its kind is otherwise
// permanent. The kind and the cause of err are preserved.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.WrapRetryable(err, domain.KindOf(err).Category(), "awaiting an earlier event")
}
