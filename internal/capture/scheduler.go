package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/metrics"
)

// DefaultPeriod is the streaming tick period
const DefaultPeriod = 600 * time.Millisecond

var (
	// ErrAlreadyStreaming is returned by Start while a session is active
	ErrAlreadyStreaming = errors.New("scheduler already streaming")
	// ErrClosed is returned after teardown
	ErrClosed = errors.New("capture closed")
)

// State of the scheduler
type State int

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "idle"
}

// Sampler produces a frame payload, or false when no frame is ready
type Sampler interface {
	Sample(quality float64) (*frame.Payload, bool)
}

// Inferer submits a payload for inference
type Inferer interface {
	Infer(ctx context.Context, payload *frame.Payload) (*detection.InferenceResult, error)
}

// Sink receives the outcome of every streaming cycle that produced a request
type Sink interface {
	HandleResult(sess *Session, result *detection.InferenceResult)
	HandleError(sess *Session, err error)
}

// SchedulerConfig wires a Scheduler
type SchedulerConfig struct {
	Clock   clock.Clock
	Period  time.Duration
	Sampler Sampler
	Inferer Inferer
	Sink    Sink
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// Scheduler fires a sample-infer cycle every Period while streaming.
// At most one cycle is in flight; ticks that find one are dropped.
type Scheduler struct {
	clock   clock.Clock
	period  time.Duration
	sampler Sampler
	inferer Inferer
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	// inFlight outlives sessions: a cycle dispatched before Stop still
	// blocks the first ticks of the next session
	inFlight atomic.Bool
	cycles   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	session  *Session
	stopLoop context.CancelFunc
	loopDone chan struct{}
	closed   bool
}

// NewScheduler creates an idle scheduler
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   cfg.Clock,
		period:  cfg.Period,
		sampler: cfg.Sampler,
		inferer: cfg.Inferer,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Period returns the tick period
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// State reports Idle or Streaming
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return Streaming
	}
	return Idle
}

// Session returns the active session, or nil when idle
func (s *Scheduler) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// InFlight reports whether a streaming request is outstanding
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Start moves Idle to Streaming for sess. The first tick fires one period later.
func (s *Scheduler) Start(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.session != nil {
		return ErrAlreadyStreaming
	}

	ticker := s.clock.Ticker(s.period)
	loopCtx, stop := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.session = sess
	s.stopLoop = stop
	s.loopDone = done

	go s.loop(loopCtx, ticker, sess, done)

	s.logger.Infof("streaming started (session %s, period %s)", sess.ID, s.period)
	return nil
}

// Stop moves Streaming to Idle. No tick fires after Stop returns.
// Cycles already dispatched keep running and still reach the sink.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}

	s.stopLoop()
	<-s.loopDone

	stats := s.session.Stats()
	s.logger.Infof("streaming stopped (session %s, ticks %d, dropped %d, requests %d)",
		s.session.ID, stats.Ticks, stats.Dropped, stats.Requests)

	s.session = nil
	s.stopLoop = nil
	s.loopDone = nil
}

// Close stops streaming and cancels in-flight cycles; their results are discarded
func (s *Scheduler) Close() {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.cycles.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *clock.Ticker, sess *Session, done chan struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(sess)
		}
	}
}

func (s *Scheduler) tick(sess *Session) {
	sess.ticks.Add(1)

	if !s.inFlight.CompareAndSwap(false, true) {
		sess.dropped.Add(1)
		s.metrics.Tick(true)
		return
	}
	s.metrics.Tick(false)

	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.inFlight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("streaming cycle panicked: %v", r)
			}
		}()
		s.cycle(sess)
	}()
}

func (s *Scheduler) cycle(sess *Session) {
	payload, ok := s.sampler.Sample(frame.StreamQuality)
	if !ok {
		sess.softSkips.Add(1)
		s.metrics.SoftSkip()
		return
	}

	sess.requests.Add(1)
	s.metrics.RequestStarted()
	defer s.metrics.RequestDone()

	start := s.clock.Now()
	result, err := s.inferer.Infer(s.ctx, payload)
	s.metrics.ObserveInference(metrics.PathStream, s.clock.Since(start), err)

	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		sess.failures.Add(1)
		s.logger.Debugf("streaming inference failed: %v", err)
		s.sink.HandleError(sess, err)
		return
	}
	s.sink.HandleResult(sess, result)
}
