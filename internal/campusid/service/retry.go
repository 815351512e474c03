package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// RetryPolicy bounds every store call with a timeout and a few quick
// retries. Exhausting it yields a system error, never a denial.
type RetryPolicy struct {
	Timeout    time.Duration
	MaxRetries int
}

func (p RetryPolicy) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = timeout
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err == nil || permanent(err) {
		return err
	}
	return types.NewError(types.KindSystem, op, "store_unavailable", err)
}

// retryValue is run for calls that return a value.
func retryValue[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.run(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// permanent errors are answers from the store, not failures to reach it.
func permanent(err error) bool {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return true
	}
	var de *types.Error
	return errors.As(err, &de)
}
