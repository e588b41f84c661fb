// Package capture drives the streaming inference loop and owns the camera lifecycle.
package capture

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"posvision/internal/media"
)

// Session is one camera streaming session, from start until stop
type Session struct {
	ID        string
	Stream    media.MediaStream
	StartedAt time.Time

	ticks     atomic.Uint64
	dropped   atomic.Uint64
	softSkips atomic.Uint64
	requests  atomic.Uint64
	failures  atomic.Uint64
}

// SessionStats counts what happened to the ticks of a session
type SessionStats struct {
	Ticks     uint64 `json:"ticks"`
	Dropped   uint64 `json:"dropped"`
	SoftSkips uint64 `json:"softSkips"`
	Requests  uint64 `json:"requests"`
	Failures  uint64 `json:"failures"`
}

// NewSession creates a session owning ms
func NewSession(ms media.MediaStream, startedAt time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Stream:    ms,
		StartedAt: startedAt,
	}
}

// Stats returns the session counters
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Ticks:     s.ticks.Load(),
		Dropped:   s.dropped.Load(),
		SoftSkips: s.softSkips.Load(),
		Requests:  s.requests.Load(),
		Failures:  s.failures.Load(),
	}
}
