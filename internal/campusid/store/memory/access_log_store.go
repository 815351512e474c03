package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// AccessLogStore is an in-memory append-only log of access attempts.
// It is intended for use in tests and dev environments.
type AccessLogStore struct {
	mu     sync.Mutex
	events []types.AccessAttempt
	keys   map[string]struct{}
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{keys: make(map[string]struct{})}
}

func (s *AccessLogStore) AppendIfAbsent(_ context.Context, a types.AccessAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := a.DedupKey()
	if _, dup := s.keys[k]; dup {
		return false, nil
	}
	s.keys[k] = struct{}{}
	s.events = append(s.events, a)
	return true, nil
}

func (s *AccessLogStore) ListBySubject(_ context.Context, subjectID string, limit int) ([]types.AccessAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AccessAttempt
	for _, a := range s.events {
		if a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of all recorded attempts.  Test-only helper.
func (s *AccessLogStore) Events() []types.AccessAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AccessAttempt, len(s.events))
	copy(out, s.events)
	return out
}
