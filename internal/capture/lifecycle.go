package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"posvision/internal/media"
	"posvision/internal/metrics"
	"posvision/internal/overlay"
	"posvision/internal/state"
)

// CameraUnavailableMessage is shown when the camera cannot be acquired
const CameraUnavailableMessage = "Camera permission denied or unavailable."

// ErrCameraUnavailable is returned by Start when camera access fails
var ErrCameraUnavailable = errors.New("camera unavailable")

// LifecycleConfig wires a Lifecycle
type LifecycleConfig struct {
	Acquirer  media.Acquirer
	Video     *media.Video
	Scheduler *Scheduler
	// Canvas is the live overlay drawn over the video
	Canvas  overlay.Canvas
	Store   *state.Store
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Logger  *zap.SugaredLogger
}

// Lifecycle exclusively owns the camera handle: it acquires it on Start and
// releases every track on Stop.
type Lifecycle struct {
	acquirer  media.Acquirer
	video     *media.Video
	scheduler *Scheduler
	canvas    overlay.Canvas
	store     *state.Store
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	session *Session
	closed  bool
}

// NewLifecycle creates a stopped lifecycle
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Lifecycle{
		acquirer:  cfg.Acquirer,
		video:     cfg.Video,
		scheduler: cfg.Scheduler,
		canvas:    cfg.Canvas,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Start acquires the rear camera, binds it to the video and starts streaming.
// Calling Start while streaming returns the active session.
func (l *Lifecycle) Start(ctx context.Context) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.session != nil {
		return l.session, nil
	}

	l.store.ClearError()

	ms, err := l.acquirer.Acquire(ctx, media.Constraints{Facing: media.FacingEnvironment, Audio: false})
	if err != nil {
		l.logger.Warnf("camera access failed: %v", err)
		l.store.SetError(CameraUnavailableMessage)
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	l.video.Attach(ms)
	sess := NewSession(ms, l.clock.Now())

	if err := l.scheduler.Start(sess); err != nil {
		l.video.Detach()
		return nil, multierr.Append(fmt.Errorf("failed to start scheduler: %w", err), stopTracks(ms))
	}

	l.session = sess
	l.store.SetStreaming(true)
	l.metrics.SetStreaming(true)
	l.logger.Infof("camera stream %s started (session %s)", ms.ID(), sess.ID)

	return sess, nil
}

// Stop releases every track, detaches the video, idles the scheduler and
// clears the live overlay. Stopping a stopped lifecycle is a no-op.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Lifecycle) stopLocked() error {
	sess := l.session
	if sess == nil {
		return nil
	}

	err := stopTracks(sess.Stream)
	l.video.Detach()
	l.scheduler.Stop()
	overlay.Clear(l.canvas)

	l.session = nil
	l.store.SetStreaming(false)
	l.metrics.SetStreaming(false)

	if err != nil {
		l.logger.Warnf("camera stream %s released with errors: %v", sess.Stream.ID(), err)
		return fmt.Errorf("failed to release camera: %w", err)
	}
	l.logger.Infof("camera stream %s stopped", sess.Stream.ID())
	return nil
}

// Close stops streaming and tears the scheduler down. Results of requests
// still in flight are discarded.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	err := l.stopLocked()
	l.closed = true
	l.mu.Unlock()

	l.scheduler.Close()
	return err
}

// Session returns the active session, or nil
func (l *Lifecycle) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Streaming reports whether a session is active
func (l *Lifecycle) Streaming() bool {
	return l.Session() != nil
}

func stopTracks(ms media.MediaStream) error {
	var err error
	for _, t := range ms.Tracks() {
		err = multierr.Append(err, t.Stop())
	}
	return err
}
