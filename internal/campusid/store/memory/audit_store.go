package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// EmergencyAuditStore keeps emergency actions in insertion order.
type EmergencyAuditStore struct {
	mu      sync.Mutex
	actions []types.EmergencyAction
}

func NewEmergencyAuditStore() *EmergencyAuditStore {
	return &EmergencyAuditStore{}
}

func (s *EmergencyAuditStore) Record(_ context.Context, a types.EmergencyAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
	return nil
}

// Recent returns the newest actions first.
func (s *EmergencyAuditStore) Recent(_ context.Context, limit int) ([]types.EmergencyAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EmergencyAction, 0, len(s.actions))
	for i := len(s.actions) - 1; i >= 0; i-- {
		out = append(out, s.actions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
