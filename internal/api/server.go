// Package api exposes the console over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"

	"posvision/internal/capture"
	"posvision/internal/detection"
	"posvision/internal/metrics"
	"posvision/internal/middleware"
	"posvision/internal/services"
	"posvision/internal/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxUploadBytes bounds POST /api/infer bodies
const maxUploadBytes = 20 << 20

// Config wires a Server
type Config struct {
	Inference *services.InferenceService
	Stream    *services.StreamService
	Preview   *services.PreviewService
	Health    *services.HealthService
	Auth      *services.AuthService
	Validator middleware.TokenValidator
	StateWS   http.Handler
	Video     http.Handler
	Snapshot  http.Handler
	Metrics   *metrics.Metrics
	Store     *state.Store
	RateLimit float64
	RateBurst int
	Logger    *zap.SugaredLogger
}

// Server routes HTTP requests to the console services
type Server struct {
	cfg      Config
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// NewServer creates the API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Server{cfg: cfg, validate: validator.New(), logger: cfg.Logger}
}

// Handler returns the root handler with every middleware applied
func (s *Server) Handler() http.Handler {
	var mux goahttp.Muxer = goahttp.NewMuxer()
	handle := func(method, pattern string, h http.Handler) {
		mux.Handle(method, pattern, h.ServeHTTP)
	}

	mux.Handle("GET", "/healthz", s.handleHealthz)
	mux.Handle("GET", "/readyz", s.handleReadyz)
	if s.cfg.Metrics != nil {
		handle("GET", "/metrics", s.cfg.Metrics.Handler())
	}
	mux.Handle("POST", "/api/auth/login", s.handleLogin)

	protect := middleware.AuthMiddleware(s.cfg.Validator)
	limit := middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateBurst)

	handle("GET", "/api/auth/status", protect(http.HandlerFunc(s.handleAuthStatus)))
	handle("GET", "/api/state", protect(http.HandlerFunc(s.handleState)))
	handle("POST", "/api/infer", protect(limit(http.HandlerFunc(s.handleInfer))))
	handle("POST", "/api/capture", protect(limit(http.HandlerFunc(s.handleCapture))))
	handle("GET", "/api/stream", protect(http.HandlerFunc(s.handleStreamStatus)))
	handle("POST", "/api/stream/start", protect(http.HandlerFunc(s.handleStreamStart)))
	handle("POST", "/api/stream/stop", protect(http.HandlerFunc(s.handleStreamStop)))
	handle("PUT", "/api/display", protect(http.HandlerFunc(s.handleDisplay)))
	handle("GET", "/api/overlay/live.png", protect(http.HandlerFunc(s.handleLiveOverlay)))
	handle("GET", "/api/preview.png", protect(http.HandlerFunc(s.handlePreview)))
	if s.cfg.Video != nil {
		handle("GET", "/api/video.mjpeg", protect(s.cfg.Video))
	}
	if s.cfg.Snapshot != nil {
		handle("GET", "/api/video/snapshot.jpg", protect(s.cfg.Snapshot))
	}
	if s.cfg.StateWS != nil {
		handle("GET", "/ws/state", protect(s.cfg.StateWS))
	}

	// Log runs inside RequestID so access lines carry the ID
	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Log(s.logger),
		middleware.CORS(),
	)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to its status and user-visible message
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"

	var unauthorized *services.UnauthorizedError
	switch {
	case errors.Is(err, capture.ErrCameraUnavailable):
		status, msg = http.StatusServiceUnavailable, capture.CameraUnavailableMessage
	case detection.IsServiceError(err):
		status, msg = http.StatusBadGateway, detection.ServiceErrorMessage
	case errors.Is(err, services.ErrNotStreaming),
		errors.Is(err, services.ErrBusy),
		errors.Is(err, services.ErrNoFrame),
		errors.Is(err, capture.ErrClosed):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrEmptyUpload):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNoPreview):
		status, msg = http.StatusNotFound, err.Error()
	case errors.As(err, &unauthorized):
		status, msg = http.StatusUnauthorized, unauthorized.Message
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warnf("[%s] %s %s: %v", middleware.GetRequestID(r.Context()), r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
