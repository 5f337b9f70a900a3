// Package testutil holds helpers shared by the container-backed test packages.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitReady calls probe with exponential backoff until it succeeds or
// timeout elapses. Each attempt gets its own two second deadline.
func WaitReady(ctx context.Context, name string, timeout time.Duration, probe func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return probe(attemptCtx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%s not ready after %s: %w", name, timeout, err)
	}
	return nil
}
