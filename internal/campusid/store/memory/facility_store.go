package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// FacilityStore keeps facilities by id, optionally seeded at construction.
type FacilityStore struct {
	mu         sync.RWMutex
	facilities map[string]types.Facility
}

func NewFacilityStore(seed ...types.Facility) *FacilityStore {
	s := &FacilityStore{facilities: make(map[string]types.Facility, len(seed))}
	for _, f := range seed {
		s.facilities[f.ID] = f
	}
	return s
}

func (s *FacilityStore) Get(_ context.Context, id string) (types.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facilities[id]
	if !ok {
		return types.Facility{}, store.ErrNotFound
	}
	return f, nil
}

func (s *FacilityStore) List(_ context.Context, ids []string) ([]types.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Facility
	if len(ids) == 0 {
		for _, f := range s.facilities {
			if f.Active {
				out = append(out, f)
			}
		}
	} else {
		for _, id := range ids {
			if f, ok := s.facilities[id]; ok {
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FacilityStore) Upsert(_ context.Context, f types.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[f.ID] = f
	return nil
}
