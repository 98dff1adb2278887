// Package notifier
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Notifier interface for sending notifications (e.g., Telegram, email).
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendWithRetry(ctx context.Context, msg string) error
}

// Nop drops every message. Used when no alert channel is configured.
type Nop struct{}

func (Nop) Send(context.Context, string) error          { return nil }
func (Nop) SendWithRetry(context.Context, string) error { return nil }

// retry runs send up to retries+1 times, delay apart, stopping early when
// ctx is done.
func retry(ctx context.Context, retries int, delay time.Duration, send func() error) error {
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)),
		ctx,
	)
	if err := backoff.Retry(send, policy); err != nil {
		return fmt.Errorf("notify after %d retries: %w", retries, err)
	}
	return nil
}
