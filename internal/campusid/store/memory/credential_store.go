package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// CredentialStore keeps credentials in a map. It enforces the same
// one-active-per-subject rule as the SQL schema.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]types.DigitalCredential
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]types.DigitalCredential)}
}

func (s *CredentialStore) Get(_ context.Context, id string) (types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return types.DigitalCredential{}, store.ErrNotFound
	}
	return clone(c), nil
}

func (s *CredentialStore) ActiveBySubject(_ context.Context, subjectID string) (types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.creds {
		if c.SubjectID == subjectID && c.Active {
			return clone(c), nil
		}
	}
	return types.DigitalCredential{}, store.ErrNotFound
}

func (s *CredentialStore) LatestBySubject(_ context.Context, subjectID string) (types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest types.DigitalCredential
		found  bool
	)
	for _, c := range s.creds {
		if c.SubjectID != subjectID {
			continue
		}
		if !found || c.IssuedAt.After(latest.IssuedAt) {
			latest, found = c, true
		}
	}
	if !found {
		return types.DigitalCredential{}, store.ErrNotFound
	}
	return clone(latest), nil
}

func (s *CredentialStore) Issue(_ context.Context, next types.DigitalCredential, supersedeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds[next.ID]; exists {
		return store.ErrConflict
	}
	for id, c := range s.creds {
		if c.SubjectID == next.SubjectID && c.Active && id != supersedeID {
			return store.ErrConflict
		}
	}
	if supersedeID != "" {
		prev, ok := s.creds[supersedeID]
		if !ok {
			return store.ErrNotFound
		}
		prev.Active = false
		prev.RevocationReason = store.RevocationSuperseded
		prev.UpdatedAt = next.IssuedAt
		s.creds[supersedeID] = prev
	}
	s.creds[next.ID] = clone(next)
	return nil
}

func (s *CredentialStore) Update(_ context.Context, c types.DigitalCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[c.ID]; !ok {
		return store.ErrNotFound
	}
	if c.Active {
		for id, other := range s.creds {
			if id != c.ID && other.SubjectID == c.SubjectID && other.Active {
				return store.ErrConflict
			}
		}
	}
	s.creds[c.ID] = clone(c)
	return nil
}

func (s *CredentialStore) List(_ context.Context, f store.CredentialFilter) ([]types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DigitalCredential
	for _, c := range s.creds {
		if f.Matches(c) {
			out = append(out, clone(c))
		}
	}
	sortByIssued(out)
	return out, nil
}

func (s *CredentialStore) ListExpiring(_ context.Context, from, to time.Time) ([]types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DigitalCredential
	for _, c := range s.creds {
		if c.Active && !c.ExpiresAt.Before(from) && !c.ExpiresAt.After(to) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *CredentialStore) ListValid(_ context.Context, now time.Time, limit int) ([]types.DigitalCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DigitalCredential
	for _, c := range s.creds {
		if c.Active && !c.Expired(now) {
			out = append(out, clone(c))
		}
	}
	sortByIssued(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByIssued(cs []types.DigitalCredential) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].IssuedAt.Equal(cs[j].IssuedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].IssuedAt.Before(cs[j].IssuedAt)
	})
}

func clone(c types.DigitalCredential) types.DigitalCredential {
	perms := make([]types.FacilityPermission, len(c.Permissions))
	copy(perms, c.Permissions)
	c.Permissions = perms
	return c
}
