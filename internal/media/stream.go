package media

import (
	"context"
	"errors"
)

// Facing selects which camera to prefer
type Facing string

const (
	// FacingEnvironment is the rear-facing camera
	FacingEnvironment Facing = "environment"
	// FacingUser is the front-facing camera
	FacingUser Facing = "user"
)

// ErrUnavailable is returned when no camera can be acquired
var ErrUnavailable = errors.New("camera unavailable")

// Constraints describe the requested capture
type Constraints struct {
	Facing Facing
	Audio  bool
}

// Track is one capture track of a media stream
type Track interface {
	Kind() string
	Label() string
	// Stop releases the underlying device; safe to call more than once
	Stop() error
}

// MediaStream is an acquired camera handle
type MediaStream interface {
	ID() string
	Tracks() []Track
	// Frames delivers encoded JPEG frames; closed when every track has stopped
	Frames() <-chan []byte
}

// Acquirer requests access to a camera
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (MediaStream, error)
}
