package ws

import (
	"time"

	"posvision/internal/state"
)

// StateMessage carries one state snapshot
type StateMessage struct {
	Type      string         `json:"type"` // "state"
	Timestamp time.Time      `json:"timestamp"`
	State     state.Snapshot `json:"state"`
}

// NewStateMessage wraps a snapshot for broadcast
func NewStateMessage(snap state.Snapshot) *StateMessage {
	return &StateMessage{
		Type:      "state",
		Timestamp: time.Now(),
		State:     snap,
	}
}
