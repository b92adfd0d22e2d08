package scrape

import (
	"context"
	"errors"
	"time"

	"gradeportal-backend/internal/portal"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how often a portal operation that failed in transport
// is tried again. Every other error is returned as is.
type RetryPolicy struct {
	// MaxRetries of 0 disables retrying.
	MaxRetries      uint64        `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
	}
}

// Do runs op until it succeeds, fails with anything but a
// [*portal.TransportError] or runs out of retries. The error of the last
// attempt is returned, also when ctx ends while waiting.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	if p.MaxRetries == 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	var last error
	err := backoff.RetryNotify(
		func() error {
			last = op()
			if last == nil {
				return nil
			}
			var transportErr *portal.TransportError
			if !errors.As(last, &transportErr) {
				return backoff.Permanent(last)
			}
			return last
		},
		backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx),
		notify,
	)
	if err != nil && last != nil {
		return last
	}
	return err
}
