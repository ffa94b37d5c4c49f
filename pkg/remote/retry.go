package remote

import (
	"context"
	goErrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// StatusError is returned when the remote responds with an unexpected HTTP
// status.
type StatusError struct {
	Code int
	Body string
}

func (err StatusError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", err.Code, http.StatusText(err.Code))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", err.Code, http.StatusText(err.Code), err.Body)
}

// Temporary returns whether the request may succeed if it's sent again.
func (err StatusError) Temporary() bool {
	return err.Code >= 500 || err.Code == http.StatusTooManyRequests
}

// RetryPolicy runs an operation until it succeeds, returns an error that
// isn't retryable, or runs out of attempts. Attempts are separated by a
// fixed delay.
type RetryPolicy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(error) bool
	Clock     clockwork.Clock
}

// DefaultRetryPolicy makes three attempts two seconds apart, retrying
// connectivity errors and server-side failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		Delay:     2 * time.Second,
		Retryable: IsTransient,
		Clock:     clockwork.NewRealClock(),
	}
}

// Do runs fn according to the policy. The returned error is the one
// returned by the last attempt.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		if attempt == attempts {
			return errors.WithContext(err, fmt.Sprintf("gave up after %d attempts", attempts))
		}

		log.WithError(err).WithFields(log.Fields{
			"op":      op,
			"attempt": attempt,
		}).Warn("Remote operation failed. Retrying.")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.Delay):
		}
	}
}

// IsTransient returns whether err looks like a connectivity problem or a
// server-side failure that may go away on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if goErrors.Is(err, context.Canceled) {
		return false
	}

	var statusErr StatusError
	if goErrors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	var netErr net.Error
	if goErrors.As(err, &netErr) {
		return true
	}

	return goErrors.Is(err, io.ErrUnexpectedEOF) ||
		goErrors.Is(err, syscall.ECONNRESET) ||
		goErrors.Is(err, syscall.ECONNREFUSED)
}
