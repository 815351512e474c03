package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DeviceStore holds the known-scanner set and last-seen times. Unknown
// scanners are recorded as seen but never become known.
type DeviceStore struct {
	mu    sync.RWMutex
	known map[string]struct{}
	seen  map[string]time.Time
}

func NewDeviceStore(knownScanners []string) *DeviceStore {
	k := make(map[string]struct{}, len(knownScanners))
	for _, m := range knownScanners {
		m = strings.TrimSpace(m)
		if m != "" {
			k[m] = struct{}{}
		}
	}
	return &DeviceStore{
		known: k,
		seen:  make(map[string]time.Time),
	}
}

func (s *DeviceStore) IsKnown(_ context.Context, scannerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[scannerID]
	return ok, nil
}

func (s *DeviceStore) MarkSeen(_ context.Context, scannerID string, _ bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[scannerID] = t
	return nil
}

// LastSeen reports when a scanner was last noted.  Test-only helper.
func (s *DeviceStore) LastSeen(scannerID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.seen[scannerID]
	return t, ok
}
