package services

import (
	"context"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"posvision/internal/capture"
	"posvision/internal/detection"
	"posvision/internal/overlay"
	"posvision/internal/state"
)

// DisplaySizer reports the on-screen size of the live video
type DisplaySizer interface {
	DisplaySize() (int, int)
}

// Display is a resizable live video
type Display interface {
	DisplaySizer
	SetDisplaySize(width, height int)
}

// StreamSink applies streaming results to the shared state and live overlay
type StreamSink struct {
	store    *state.Store
	canvas   *overlay.RasterCanvas
	display  DisplaySizer
	renderer *overlay.Renderer
	logger   *zap.SugaredLogger
	closed   atomic.Bool
}

// NewStreamSink creates a sink drawing into canvas at display's size
func NewStreamSink(store *state.Store, canvas *overlay.RasterCanvas, display DisplaySizer, logger *zap.SugaredLogger) *StreamSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamSink{
		store:    store,
		canvas:   canvas,
		display:  display,
		renderer: overlay.NewRenderer(),
		logger:   logger,
	}
}

// HandleResult replaces the current result and redraws the live overlay
func (s *StreamSink) HandleResult(sess *capture.Session, result *detection.InferenceResult) {
	if s.closed.Load() {
		return
	}
	s.store.SetResult(result)
	w, h := s.display.DisplaySize()
	s.renderer.Render(result, s.canvas, w, h)
}

// HandleError shows the service error banner; the previous overlay stays
func (s *StreamSink) HandleError(sess *capture.Session, err error) {
	if s.closed.Load() {
		return
	}
	s.store.SetError(detection.ServiceErrorMessage)
}

// Close discards any result that arrives afterwards
func (s *StreamSink) Close() {
	s.closed.Store(true)
}

// WriteLiveOverlay encodes the live overlay canvas as PNG
func (s *StreamSink) WriteLiveOverlay(w io.Writer) error {
	return s.canvas.EncodePNG(w)
}

// StreamService starts and stops the camera stream
type StreamService struct {
	lifecycle *capture.Lifecycle
	sink      *StreamSink
	display   Display
}

// NewStreamService wraps a lifecycle and its sink
func NewStreamService(lifecycle *capture.Lifecycle, sink *StreamSink, display Display) *StreamService {
	return &StreamService{lifecycle: lifecycle, sink: sink, display: display}
}

// Start starts the camera stream
func (s *StreamService) Start(ctx context.Context) (*capture.Session, error) {
	return s.lifecycle.Start(ctx)
}

// Stop stops the camera stream and clears the live overlay
func (s *StreamService) Stop() error {
	return s.lifecycle.Stop()
}

// Streaming reports whether the camera stream is active
func (s *StreamService) Streaming() bool {
	return s.lifecycle.Streaming()
}

// Session returns the active session, or nil
func (s *StreamService) Session() *capture.Session {
	return s.lifecycle.Session()
}

// SetDisplaySize sets the size the live overlay is drawn at from the next result on
func (s *StreamService) SetDisplaySize(width, height int) {
	s.display.SetDisplaySize(width, height)
}

// DisplaySize returns the live overlay size
func (s *StreamService) DisplaySize() (int, int) {
	return s.display.DisplaySize()
}

// WriteLiveOverlay encodes the live overlay canvas as PNG
func (s *StreamService) WriteLiveOverlay(w io.Writer) error {
	return s.sink.WriteLiveOverlay(w)
}

// Close stops the stream and tears the loop down
func (s *StreamService) Close() error {
	s.sink.Close()
	return s.lifecycle.Close()
}
