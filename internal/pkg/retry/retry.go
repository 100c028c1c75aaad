// Package retry wraps eapache/go-resiliency with the exponential backoff used
// for idempotent outbound requests.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type classifier struct{}

func (classifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case IsPermanent(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}

// Do runs work up to retries+1 times, doubling the wait from base after each
// transient failure. Errors wrapped with Permanent and context errors stop
// immediately. The returned error is unwrapped from Permanent.
func Do(ctx context.Context, retries int, base time.Duration, work func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	r := retrier.New(retrier.ExponentialBackoff(retries, base), classifier{})
	err := r.RunCtx(ctx, work)

	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
