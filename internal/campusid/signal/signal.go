// Package signal delivers security signals (suspicious activity and
// security incidents) to whoever handles notification.
package signal

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// Sink receives security signals. Publish must not block validation for
// long; callers bound it with their context.
type Sink interface {
	Publish(ctx context.Context, s types.SecuritySignal) error
}

// LogSink writes signals to the structured log. It is the default sink.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, sig types.SecuritySignal) error {
	fields := []zap.Field{
		zap.String("kind", string(sig.Kind)),
		zap.String("cause", sig.Cause),
		zap.String("subject_id", sig.SubjectID),
		zap.String("facility_id", sig.FacilityID),
		zap.String("scanner_id", sig.Device.ScannerID),
		zap.Int("attempt_count", sig.AttemptCount),
		zap.Bool("offline", sig.Offline),
		zap.Time("occurred_at", sig.OccurredAt),
	}
	if sig.LockedUntil != nil {
		fields = append(fields, zap.Time("locked_until", *sig.LockedUntil))
	}

	if sig.Kind == types.SignalSecurityIncident {
		s.log.Error("security incident", fields...)
		return nil
	}
	s.log.Warn("suspicious activity", fields...)
	return nil
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, sig types.SecuritySignal) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps signals in memory.
type MemorySink struct {
	mu      sync.Mutex
	signals []types.SecuritySignal
}

func (m *MemorySink) Publish(_ context.Context, sig types.SecuritySignal) error {
	m.mu.Lock()
	m.signals = append(m.signals, sig)
	m.mu.Unlock()
	return nil
}

// Signals returns a copy of everything published. Test-only helper.
func (m *MemorySink) Signals() []types.SecuritySignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SecuritySignal, len(m.signals))
	copy(out, m.signals)
	return out
}
