// Package app wires the posvision console from its configuration.
package app

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"posvision/internal/api"
	"posvision/internal/auth"
	"posvision/internal/capture"
	"posvision/internal/config"
	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/media"
	"posvision/internal/metrics"
	"posvision/internal/overlay"
	"posvision/internal/services"
	"posvision/internal/state"
	"posvision/internal/stream"
	"posvision/internal/ws"
)

// Option overrides a collaborator, mostly for tests
type Option func(*options)

type options struct {
	acquirer media.Acquirer
	clock    clock.Clock
}

// WithAcquirer replaces the ffmpeg camera acquirer
func WithAcquirer(a media.Acquirer) Option {
	return func(o *options) { o.acquirer = a }
}

// WithClock replaces the wall clock driving the streaming scheduler
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App is a fully wired console
type App struct {
	Store     *state.Store
	Metrics   *metrics.Metrics
	Client    *detection.Client
	Video     *media.Video
	Scheduler *capture.Scheduler
	Lifecycle *capture.Lifecycle
	Inference *services.InferenceService
	Stream    *services.StreamService
	Hub       *ws.StateHub
	Viewer    *stream.MJPEGHandler

	handler http.Handler
	logger  *zap.SugaredLogger
}

// New builds the console described by cfg
func New(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) (*App, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.acquirer == nil {
		o.acquirer = media.NewFFmpegAcquirer(media.FFmpegConfig{
			Devices: map[media.Facing]string{
				media.FacingEnvironment: cfg.Camera.DeviceEnvironment,
				media.FacingUser:        cfg.Camera.DeviceUser,
			},
			FPS:          cfg.Camera.FPS,
			Width:        cfg.Camera.Width,
			Height:       cfg.Camera.Height,
			StartTimeout: cfg.Camera.StartTimeout,
		}, logger.Named("camera"))
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Store:   state.NewStore(),
		Metrics: metrics.New(),
		Video:   media.NewVideo(cfg.Display.Width, cfg.Display.Height),
		logger:  logger,
	}

	a.Metrics.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var clientOpts []detection.Option
	if cfg.InferTimeout > 0 {
		clientOpts = append(clientOpts, detection.WithTimeout(cfg.InferTimeout))
	}
	a.Client = detection.NewClient(cfg.InferURL, logger.Named("inference"), clientOpts...)

	sampler := frame.NewSampler(a.Video, logger.Named("frame-sampler"))
	liveCanvas := overlay.NewRasterCanvas(cfg.Display.Width, cfg.Display.Height)
	sink := services.NewStreamSink(a.Store, liveCanvas, a.Video, logger.Named("stream"))

	a.Scheduler = capture.NewScheduler(capture.SchedulerConfig{
		Clock:   o.clock,
		Period:  cfg.StreamInterval,
		Sampler: sampler,
		Inferer: a.Client,
		Sink:    sink,
		Metrics: a.Metrics,
		Logger:  logger.Named("scheduler"),
	})
	a.Lifecycle = capture.NewLifecycle(capture.LifecycleConfig{
		Acquirer:  o.acquirer,
		Video:     a.Video,
		Scheduler: a.Scheduler,
		Canvas:    liveCanvas,
		Store:     a.Store,
		Metrics:   a.Metrics,
		Clock:     o.clock,
		Logger:    logger.Named("lifecycle"),
	})

	a.Stream = services.NewStreamService(a.Lifecycle, sink, a.Video)
	a.Inference = services.NewInferenceService(services.InferenceConfig{
		Client:  a.Client,
		Sampler: sampler,
		Stream:  a.Lifecycle,
		Store:   a.Store,
		Metrics: a.Metrics,
		Logger:  logger.Named("inference-service"),
	})
	a.Hub = ws.NewStateHub(a.Store, logger.Named("ws"))
	a.Viewer = stream.NewMJPEGHandler(a.Video, cfg.Camera.FPS, o.clock, logger.Named("viewfinder"))

	a.handler = api.NewServer(api.Config{
		Inference: a.Inference,
		Stream:    a.Stream,
		Preview:   services.NewPreviewService(a.Store),
		Health:    services.NewHealthService(a.Client),
		Auth:      services.NewAuthService(authenticator),
		Validator: authenticator,
		StateWS:   ws.NewHandler(a.Hub),
		Video:     a.Viewer,
		Snapshot:  stream.NewSnapshotHandler(a.Video),
		Metrics:   a.Metrics,
		Store:     a.Store,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Logger:    logger.Named("http"),
	}).Handler()

	return a, nil
}

// Handler returns the HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run pushes state to WebSocket clients until ctx is done
func (a *App) Run(ctx context.Context) {
	a.Hub.Run(ctx)
}

// Close releases the camera and discards in-flight streaming results
func (a *App) Close() error {
	return a.Stream.Close()
}
