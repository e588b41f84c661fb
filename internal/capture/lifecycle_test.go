package capture

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	clk "github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/media"
	"posvision/internal/media/mediatest"
	"posvision/internal/overlay"
	"posvision/internal/state"
)

// drawingSink renders results into the live canvas like the console does
type drawingSink struct {
	recordingSink
	canvas *overlay.RasterCanvas
	video  *media.Video
}

func (d *drawingSink) HandleResult(sess *Session, result *detection.InferenceResult) {
	w, h := d.video.DisplaySize()
	overlay.NewRenderer().Render(result, d.canvas, w, h)
	d.recordingSink.HandleResult(sess, result)
}

type lifecycleFixture struct {
	acquirer  *mediatest.Acquirer
	video     *media.Video
	canvas    *overlay.RasterCanvas
	store     *state.Store
	clock     *clk.Mock
	scheduler *Scheduler
	sink      *drawingSink
	lifecycle *Lifecycle
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	f := &lifecycleFixture{
		acquirer: &mediatest.Acquirer{},
		video:    media.NewVideo(320, 240),
		canvas:   overlay.NewRasterCanvas(320, 240),
		store:    state.NewStore(),
		clock:    clk.NewMock(),
	}
	f.sink = &drawingSink{canvas: f.canvas, video: f.video}

	inferer := &fakeInferer{fn: func(ctx context.Context, call int) (*detection.InferenceResult, error) {
		return &detection.InferenceResult{
			ImageWidth:  640,
			ImageHeight: 480,
			Detections: []detection.Detection{
				{Label: "sandwich", Confidence: 0.87, Box: detection.Box{100, 50, 300, 250}},
			},
			InferenceMs: 120,
		}, nil
	}}

	f.scheduler = NewScheduler(SchedulerConfig{
		Clock:   f.clock,
		Period:  period,
		Sampler: frame.NewSampler(f.video, logger),
		Inferer: inferer,
		Sink:    f.sink,
		Logger:  logger,
	})
	f.lifecycle = NewLifecycle(LifecycleConfig{
		Acquirer:  f.acquirer,
		Video:     f.video,
		Scheduler: f.scheduler,
		Canvas:    f.canvas,
		Store:     f.store,
		Clock:     f.clock,
		Logger:    logger,
	})
	return f
}

func hasContent(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return true
		}
	}
	return false
}

func TestLifecycleStartDrawStop(t *testing.T) {
	f := newLifecycleFixture(t)
	defer f.lifecycle.Close()

	f.store.SetError("stale")
	sess, err := f.lifecycle.Start(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess, test.ShouldNotBeNil)
	test.That(t, f.store.Snapshot().Error, test.ShouldEqual, "")
	test.That(t, f.store.Streaming(), test.ShouldBeTrue)
	test.That(t, f.acquirer.Requests[0].Facing, test.ShouldEqual, media.FacingEnvironment)

	stream := f.acquirer.Last()
	stream.PushImage(640, 480)
	waitFor(t, f.video.Ready)

	advance(t, f.clock, sess)
	waitFor(t, func() bool { results, _ := f.sink.counts(); return results == 1 })
	waitFor(t, func() bool { return !f.scheduler.InFlight() })
	test.That(t, hasContent(f.canvas.Image()), test.ShouldBeTrue)

	test.That(t, f.lifecycle.Stop(), test.ShouldBeNil)
	test.That(t, stream.VideoTrack().Stopped(), test.ShouldBeTrue)
	test.That(t, f.video.Source(), test.ShouldBeNil)
	test.That(t, f.scheduler.State(), test.ShouldEqual, Idle)
	test.That(t, hasContent(f.canvas.Image()), test.ShouldBeFalse)
	test.That(t, f.store.Streaming(), test.ShouldBeFalse)
	test.That(t, f.lifecycle.Streaming(), test.ShouldBeFalse)

	ticks := sess.Stats().Ticks
	for i := 0; i < 3; i++ {
		f.clock.Add(period)
	}
	time.Sleep(10 * time.Millisecond)
	test.That(t, sess.Stats().Ticks, test.ShouldEqual, ticks)

	// stopping again is a no-op
	test.That(t, f.lifecycle.Stop(), test.ShouldBeNil)
}

func TestLifecycleCameraDenied(t *testing.T) {
	f := newLifecycleFixture(t)
	defer f.lifecycle.Close()
	f.acquirer.Err = errors.Join(media.ErrUnavailable, errors.New("permission denied"))

	sess, err := f.lifecycle.Start(context.Background())
	test.That(t, sess, test.ShouldBeNil)
	test.That(t, errors.Is(err, ErrCameraUnavailable), test.ShouldBeTrue)

	snap := f.store.Snapshot()
	test.That(t, snap.Error, test.ShouldEqual, CameraUnavailableMessage)
	test.That(t, snap.Streaming, test.ShouldBeFalse)
	test.That(t, f.scheduler.State(), test.ShouldEqual, Idle)
	test.That(t, f.video.Source(), test.ShouldBeNil)
}

func TestLifecycleStartWhileStreaming(t *testing.T) {
	f := newLifecycleFixture(t)
	defer f.lifecycle.Close()

	first, err := f.lifecycle.Start(context.Background())
	test.That(t, err, test.ShouldBeNil)
	second, err := f.lifecycle.Start(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, len(f.acquirer.Streams), test.ShouldEqual, 1)
}

func TestLifecycleClose(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.lifecycle.Start(context.Background())
	test.That(t, err, test.ShouldBeNil)
	stream := f.acquirer.Last()

	test.That(t, f.lifecycle.Close(), test.ShouldBeNil)
	test.That(t, stream.VideoTrack().Stopped(), test.ShouldBeTrue)

	_, err = f.lifecycle.Start(context.Background())
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
}
