package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// OfflineQueue is an in-memory OfflineQueue with monotonically increasing
// sequence numbers starting at 1.
type OfflineQueue struct {
	mu      sync.Mutex
	nextSeq int64
	entries []store.QueuedAttempt
}

func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{nextSeq: 1}
}

func (q *OfflineQueue) Append(_ context.Context, a types.AccessAttempt) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	seq := q.nextSeq
	q.nextSeq++
	q.entries = append(q.entries, store.QueuedAttempt{
		Seq:        seq,
		Attempt:    a,
		Status:     store.QueuePending,
		EnqueuedAt: time.Now().UTC(),
	})
	return seq, nil
}

func (q *OfflineQueue) Pending(_ context.Context, limit int) ([]store.QueuedAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []store.QueuedAttempt
	for _, e := range q.entries {
		if e.Status != store.QueuePending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *OfflineQueue) MarkSynced(_ context.Context, seqs ...int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, seq := range seqs {
		q.mark(seq, store.QueueSynced, "")
	}
	return nil
}

func (q *OfflineQueue) MarkRejected(_ context.Context, seq int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mark(seq, store.QueueRejected, reason)
	return nil
}

func (q *OfflineQueue) mark(seq int64, status store.QueueStatus, reason string) {
	for i := range q.entries {
		if q.entries[i].Seq == seq {
			q.entries[i].Status = status
			q.entries[i].Reason = reason
			return
		}
	}
}

func (q *OfflineQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == store.QueuePending {
			n++
		}
	}
	return n, nil
}

// Entries returns a copy of every entry regardless of status.  Test-only helper.
func (q *OfflineQueue) Entries() []store.QueuedAttempt {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]store.QueuedAttempt, len(q.entries))
	copy(out, q.entries)
	return out
}
