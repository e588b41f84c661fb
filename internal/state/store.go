// Package state holds the shared console state that both the manual and streaming
// inference paths write to.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"posvision/internal/detection"
)

const (
	StatusBusy  = "Running inference..."
	StatusReady = "Ready for a frame"
	// EmptyHint is shown while there is neither a result nor an error
	EmptyHint = "Results will appear here after inference completes."
	// NoLatency is the latency label without a result
	NoLatency = "-"
)

// Item is one line of the detection list
type Item struct {
	Label      string `json:"label"`
	Confidence string `json:"confidence"`
}

// Snapshot is a read-only copy of the state plus its derived labels
type Snapshot struct {
	Version        uint64                     `json:"version"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
	Result         *detection.InferenceResult `json:"result"`
	Error          string                     `json:"error,omitempty"`
	Busy           bool                       `json:"busy"`
	Streaming      bool                       `json:"streaming"`
	HasPreview     bool                       `json:"hasPreview"`
	PreviewName    string                     `json:"previewName,omitempty"`
	Status         string                     `json:"status"`
	DetectionCount int                        `json:"detectionCount"`
	Latency        string                     `json:"latency"`
	Items          []Item                     `json:"items"`
	Hint           string                     `json:"hint,omitempty"`
}

// Store is the single writer-visible state. Writes apply in call order; the last write wins.
type Store struct {
	mu          sync.RWMutex
	version     uint64
	updatedAt   time.Time
	result      *detection.InferenceResult
	err         string
	busy        int
	streaming   bool
	preview     []byte
	previewName string

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		subs: make(map[int]chan Snapshot),
		now:  time.Now,
	}
}

// StatusLabel derives the headline status
func StatusLabel(busy bool, result *detection.InferenceResult) string {
	if busy {
		return StatusBusy
	}
	if result != nil {
		n := result.Count()
		if n == 1 {
			return "1 item detected"
		}
		return fmt.Sprintf("%d items detected", n)
	}
	return StatusReady
}

// LatencyLabel formats the inference time of a result
func LatencyLabel(result *detection.InferenceResult) string {
	if result == nil {
		return NoLatency
	}
	return fmt.Sprintf("%.0f ms", result.InferenceMs)
}

// Items projects a result into list lines
func Items(result *detection.InferenceResult) []Item {
	if result == nil {
		return []Item{}
	}
	return lo.Map(result.Detections, func(d detection.Detection, _ int) Item {
		return Item{
			Label:      d.Label,
			Confidence: fmt.Sprintf("%.1f%% confidence", d.Confidence*100),
		}
	})
}

// Snapshot returns the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:        s.version,
		UpdatedAt:      s.updatedAt,
		Result:         s.result,
		Error:          s.err,
		Busy:           s.busy > 0,
		Streaming:      s.streaming,
		HasPreview:     s.preview != nil,
		PreviewName:    s.previewName,
		Status:         StatusLabel(s.busy > 0, s.result),
		DetectionCount: s.result.Count(),
		Latency:        LatencyLabel(s.result),
		Items:          Items(s.result),
	}
	if s.result == nil && s.err == "" {
		snap.Hint = EmptyHint
	}
	return snap
}

// Result returns the current result, or nil
func (s *Store) Result() *detection.InferenceResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Preview returns the stored still image and its filename
func (s *Store) Preview() ([]byte, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview, s.previewName
}

// SetResult replaces the current result wholesale
func (s *Store) SetResult(r *detection.InferenceResult) {
	s.update(func() { s.result = r })
}

// SetError sets the error banner
func (s *Store) SetError(msg string) {
	s.update(func() { s.err = msg })
}

// ClearError hides the error banner
func (s *Store) ClearError() {
	s.SetError("")
}

// EnterBusy counts one more outstanding manual inference
func (s *Store) EnterBusy() {
	s.update(func() { s.busy++ })
}

// TryBusy enters busy only if no manual inference is outstanding,
// reporting whether it did
func (s *Store) TryBusy() bool {
	ok := false
	s.update(func() {
		if s.busy == 0 {
			s.busy = 1
			ok = true
		}
	})
	return ok
}

// LeaveBusy releases one outstanding manual inference. Busy stays set until
// every EnterBusy or successful TryBusy has been matched.
func (s *Store) LeaveBusy() {
	s.update(func() {
		if s.busy > 0 {
			s.busy--
		}
	})
}

// Busy reports whether any manual inference is outstanding
func (s *Store) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy > 0
}

// SetStreaming marks the camera stream active or inactive
func (s *Store) SetStreaming(active bool) {
	s.update(func() { s.streaming = active })
}

// Streaming reports whether the camera stream is active
func (s *Store) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// SetPreview stores the still image shown in the preview pane
func (s *Store) SetPreview(data []byte, name string) {
	s.update(func() {
		s.preview = data
		s.previewName = name
	})
}

func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	s.version++
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Subscribe returns a channel of snapshots and a func to stop receiving.
// Slow subscribers only see the newest snapshot.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case old := <-ch:
			if old.Version > snap.Version {
				ch <- old
				continue
			}
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
