package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"posvision/internal/capture"
	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/metrics"
	"posvision/internal/state"
)

var (
	// ErrNotStreaming is returned by Capture without an active camera stream
	ErrNotStreaming = errors.New("camera stream is not active")
	// ErrBusy is returned by Capture while a manual inference is running
	ErrBusy = errors.New("manual inference already running")
	// ErrNoFrame is returned by Capture when the camera has no frame yet
	ErrNoFrame = errors.New("no camera frame available")
	// ErrEmptyUpload is returned for an upload without data
	ErrEmptyUpload = errors.New("uploaded file is empty")
)

// FrameSampler captures the current camera frame
type FrameSampler interface {
	Sample(quality float64) (*frame.Payload, bool)
}

// StreamState reports whether the camera stream is active
type StreamState interface {
	Streaming() bool
}

// InferenceConfig wires an InferenceService
type InferenceConfig struct {
	Client  capture.Inferer
	Sampler FrameSampler
	Stream  StreamState
	Store   *state.Store
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// InferenceService runs the manual single-shot path: uploaded stills and
// explicit camera captures. It bypasses the streaming scheduler and its guard.
type InferenceService struct {
	client  capture.Inferer
	sampler FrameSampler
	stream  StreamState
	store   *state.Store
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// NewInferenceService creates the manual inference service
func NewInferenceService(cfg InferenceConfig) *InferenceService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &InferenceService{
		client:  cfg.Client,
		sampler: cfg.Sampler,
		stream:  cfg.Stream,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Upload shows data as the preview and runs inference on it
func (s *InferenceService) Upload(ctx context.Context, filename string, data []byte) (*detection.InferenceResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	if filename == "" {
		filename = frame.CaptureFilename
	}

	s.store.SetPreview(data, filename)
	s.store.EnterBusy()

	return s.infer(ctx, &frame.Payload{
		Data:        data,
		Filename:    filename,
		ContentType: http.DetectContentType(data),
	})
}

// Capture grabs the current camera frame at manual quality, shows it as the
// preview and runs inference on it
func (s *InferenceService) Capture(ctx context.Context) (*detection.InferenceResult, error) {
	if s.stream == nil || !s.stream.Streaming() {
		return nil, ErrNotStreaming
	}
	if !s.store.TryBusy() {
		return nil, ErrBusy
	}

	payload, ok := s.sampler.Sample(frame.ManualQuality)
	if !ok {
		s.store.LeaveBusy()
		return nil, ErrNoFrame
	}
	payload.Filename = frame.CaptureFilename

	s.store.SetPreview(payload.Data, payload.Filename)
	return s.infer(ctx, payload)
}

// infer expects busy to be entered and always leaves it
func (s *InferenceService) infer(ctx context.Context, payload *frame.Payload) (*detection.InferenceResult, error) {
	defer s.store.LeaveBusy()
	s.store.ClearError()

	start := time.Now()
	result, err := s.client.Infer(ctx, payload)
	s.metrics.ObserveInference(metrics.PathManual, time.Since(start), err)

	if err != nil {
		s.logger.Warnf("manual inference of %s failed: %v", payload.Filename, err)
		s.store.SetError(detection.ServiceErrorMessage)
		return nil, err
	}

	s.store.SetResult(result)
	s.logger.Infof("manual inference of %s: %d detections in %.0fms", payload.Filename, result.Count(), result.InferenceMs)
	return result, nil
}
