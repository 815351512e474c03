// Package counter holds the shared counters behind lockout and capacity
// checks: sliding failure windows, lock markers and facility occupancy.
// Memory implementations serve single-node deployments and tests; Redis
// implementations share state across validation nodes.
package counter

import (
	"context"
	"time"
)

// FailureCounter records failed attempts per key and counts them over
// sliding windows.
type FailureCounter interface {
	// Add records a failure at `at` and returns, for each window, how many
	// failures fall in [at-window, at].
	Add(ctx context.Context, key string, at time.Time, windows ...time.Duration) ([]int, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// LockStore holds time-boxed markers. The first Acquire for a key wins;
// later calls see the existing expiry until it passes.
type LockStore interface {
	Acquire(ctx context.Context, key string, now time.Time, ttl time.Duration) (until time.Time, created bool, err error)
	Get(ctx context.Context, key string, now time.Time) (until time.Time, locked bool, err error)
}

// Occupancy tracks people currently inside a facility.
type Occupancy interface {
	// TryEnter increments the count unless it already reached capacity.
	TryEnter(ctx context.Context, facilityID string, capacity int) (current int, admitted bool, err error)
	// Enter increments unconditionally.
	Enter(ctx context.Context, facilityID string) (int, error)
	// Leave decrements, never below zero.
	Leave(ctx context.Context, facilityID string) (int, error)
	Current(ctx context.Context, facilityID string) (int, error)
}

func maxWindow(windows []time.Duration) time.Duration {
	var m time.Duration
	for _, w := range windows {
		if w > m {
			m = w
		}
	}
	return m
}
