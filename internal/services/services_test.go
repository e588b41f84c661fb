package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"posvision/internal/auth"
	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/media/mediatest"
	"posvision/internal/metrics"
	"posvision/internal/middleware"
	"posvision/internal/overlay"
	"posvision/internal/state"
)

const sandwichJSON = `{"imageWidth":640,"imageHeight":480,"detections":[{"label":"sandwich","confidence":0.87,"box":[100,50,300,250]}],"inferenceMs":120}`

func previous() *detection.InferenceResult {
	return &detection.InferenceResult{
		ImageWidth:  640,
		ImageHeight: 480,
		Detections:  []detection.Detection{{Label: "tray", Confidence: 0.5, Box: detection.Box{0, 0, 10, 10}}},
		InferenceMs: 80,
	}
}

type staticSampler struct{ ok bool }

func (s staticSampler) Sample(quality float64) (*frame.Payload, bool) {
	if !s.ok {
		return nil, false
	}
	return &frame.Payload{Data: mediatest.JPEG(64, 48), Filename: frame.StreamFilename, ContentType: frame.ContentTypeJPEG}, true
}

type streaming bool

func (s streaming) Streaming() bool { return bool(s) }

func newInference(t *testing.T, url string, sampler FrameSampler, stream StreamState) (*InferenceService, *state.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	store := state.NewStore()
	svc := NewInferenceService(InferenceConfig{
		Client:  detection.NewClient(url, logger),
		Sampler: sampler,
		Stream:  stream,
		Store:   store,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	return svc, store
}

func TestUploadServiceErrorKeepsDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, store := newInference(t, srv.URL, nil, streaming(false))
	prev := previous()
	store.SetResult(prev)

	_, err := svc.Upload(context.Background(), "tray.jpg", mediatest.JPEG(8, 8))
	test.That(t, detection.IsServiceError(err), test.ShouldBeTrue)

	snap := store.Snapshot()
	test.That(t, snap.Result, test.ShouldEqual, prev)
	test.That(t, snap.Error, test.ShouldEqual, detection.ServiceErrorMessage)
	test.That(t, snap.Busy, test.ShouldBeFalse)
	test.That(t, snap.HasPreview, test.ShouldBeTrue)
	test.That(t, snap.PreviewName, test.ShouldEqual, "tray.jpg")
}

func TestUploadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sandwichJSON))
	}))
	defer srv.Close()

	svc, store := newInference(t, srv.URL, nil, streaming(false))
	store.SetError("old banner")

	result, err := svc.Upload(context.Background(), "", mediatest.JPEG(8, 8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Count(), test.ShouldEqual, 1)

	snap := store.Snapshot()
	test.That(t, snap.Error, test.ShouldEqual, "")
	test.That(t, snap.Status, test.ShouldEqual, "1 item detected")
	test.That(t, snap.Latency, test.ShouldEqual, "120 ms")
	test.That(t, snap.PreviewName, test.ShouldEqual, frame.CaptureFilename)

	_, err = svc.Upload(context.Background(), "x.jpg", nil)
	test.That(t, err, test.ShouldEqual, ErrEmptyUpload)
}

func TestCaptureGates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(sandwichJSON))
	}))
	defer srv.Close()

	svc, _ := newInference(t, srv.URL, staticSampler{ok: true}, streaming(false))
	_, err := svc.Capture(context.Background())
	test.That(t, err, test.ShouldEqual, ErrNotStreaming)

	svc, store := newInference(t, srv.URL, staticSampler{ok: true}, streaming(true))
	store.EnterBusy()
	_, err = svc.Capture(context.Background())
	test.That(t, err, test.ShouldEqual, ErrBusy)
	store.LeaveBusy()

	svc, store = newInference(t, srv.URL, staticSampler{ok: false}, streaming(true))
	_, err = svc.Capture(context.Background())
	test.That(t, err, test.ShouldEqual, ErrNoFrame)
	test.That(t, store.Busy(), test.ShouldBeFalse)
	test.That(t, calls.Load(), test.ShouldEqual, int32(0))

	svc, store = newInference(t, srv.URL, staticSampler{ok: true}, streaming(true))
	result, err := svc.Capture(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Detections[0].Label, test.ShouldEqual, "sandwich")
	_, name := store.Preview()
	test.That(t, name, test.ShouldEqual, frame.CaptureFilename)
	test.That(t, store.Busy(), test.ShouldBeFalse)
}

func TestOverlappingUploadsHoldBusy(t *testing.T) {
	arrived := make(chan int32, 2)
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		arrived <- n
		<-release[n-1]
		_, _ = w.Write([]byte(sandwichJSON))
	}))
	defer srv.Close()

	svc, store := newInference(t, srv.URL, nil, nil)
	upload := func() chan error {
		done := make(chan error, 1)
		go func() {
			_, err := svc.Upload(context.Background(), "tray.jpg", mediatest.JPEG(8, 8))
			done <- err
		}()
		return done
	}

	first := upload()
	test.That(t, <-arrived, test.ShouldEqual, int32(1))
	second := upload()
	test.That(t, <-arrived, test.ShouldEqual, int32(2))

	close(release[0])
	test.That(t, <-first, test.ShouldBeNil)
	test.That(t, store.Busy(), test.ShouldBeTrue)
	test.That(t, store.Snapshot().Status, test.ShouldEqual, state.StatusBusy)

	close(release[1])
	test.That(t, <-second, test.ShouldBeNil)
	test.That(t, store.Busy(), test.ShouldBeFalse)
}

type fixedDisplay struct{ w, h int }

func (d *fixedDisplay) DisplaySize() (int, int)          { return d.w, d.h }
func (d *fixedDisplay) SetDisplaySize(width, height int) { d.w, d.h = width, height }

func TestStreamSink(t *testing.T) {
	store := state.NewStore()
	canvas := overlay.NewRasterCanvas(1, 1)
	sink := NewStreamSink(store, canvas, &fixedDisplay{320, 240}, zaptest.NewLogger(t).Sugar())

	prev := previous()
	sink.HandleResult(nil, prev)
	test.That(t, store.Result(), test.ShouldEqual, prev)
	w, h := canvas.Size()
	test.That(t, w, test.ShouldEqual, 320)
	test.That(t, h, test.ShouldEqual, 240)
	drawn := canvas.Image()
	test.That(t, bytes.Count(drawn.Pix, []byte{0}), test.ShouldBeLessThan, len(drawn.Pix))

	sink.HandleError(nil, errors.New("boom"))
	test.That(t, store.Snapshot().Error, test.ShouldEqual, detection.ServiceErrorMessage)
	test.That(t, store.Result(), test.ShouldEqual, prev)
	test.That(t, canvas.Image().Pix, test.ShouldResemble, drawn.Pix)

	sink.Close()
	store.ClearError()
	sink.HandleResult(nil, &detection.InferenceResult{})
	sink.HandleError(nil, errors.New("late"))
	test.That(t, store.Result(), test.ShouldEqual, prev)
	test.That(t, store.Snapshot().Error, test.ShouldEqual, "")
	test.That(t, canvas.Image().Pix, test.ShouldResemble, drawn.Pix)

	var buf bytes.Buffer
	test.That(t, sink.WriteLiveOverlay(&buf), test.ShouldBeNil)
	img, err := png.Decode(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))
}

func TestPreviewWritePNG(t *testing.T) {
	store := state.NewStore()
	p := NewPreviewService(store)

	var buf bytes.Buffer
	test.That(t, p.WritePNG(&buf, 0, 0), test.ShouldEqual, ErrNoPreview)

	store.SetPreview(mediatest.JPEG(64, 48), "tray.jpg")
	test.That(t, p.WritePNG(&buf, 0, 0), test.ShouldBeNil)
	img, err := png.Decode(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 64)

	buf.Reset()
	store.SetResult(previous())
	test.That(t, p.WritePNG(&buf, 320, 240), test.ShouldBeNil)
	img, err = png.Decode(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 320)

	store.SetPreview([]byte("not an image"), "bad.jpg")
	test.That(t, p.WritePNG(&buf, 0, 0), test.ShouldNotBeNil)
}

type fakeChecker struct{ err error }

func (f fakeChecker) Health(ctx context.Context) (*detection.HealthResponse, error) {
	return &detection.HealthResponse{Status: "ok"}, f.err
}

func TestHealthService(t *testing.T) {
	h := NewHealthService(fakeChecker{})
	test.That(t, h.Healthz(context.Background()), test.ShouldBeNil)
	test.That(t, h.Readyz(context.Background()), test.ShouldBeNil)

	h = NewHealthService(fakeChecker{err: errors.New("down")})
	test.That(t, h.Readyz(context.Background()), test.ShouldNotBeNil)
}

func TestAuthServiceLogin(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "cashier", Password: "tray42", JWTExpiry: time.Hour})
	test.That(t, err, test.ShouldBeNil)
	svc := NewAuthService(a)

	res, err := svc.Login(context.Background(), "cashier", "tray42")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Token, test.ShouldNotBeEmpty)

	_, err = svc.Login(context.Background(), "cashier", "nope")
	test.That(t, errors.Is(err, ErrUnauthorized), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldEqual, "Invalid username or password")

	status := svc.Status(context.Background())
	test.That(t, status.Enabled, test.ShouldBeTrue)
	test.That(t, status.Authenticated, test.ShouldBeFalse)
	test.That(t, status.TokenTTLSeconds, test.ShouldEqual, int64(3600))

	claims, err := a.ValidateToken(res.Token)
	test.That(t, err, test.ShouldBeNil)
	status = svc.Status(context.WithValue(context.Background(), middleware.UserContextKey, claims))
	test.That(t, status.Authenticated, test.ShouldBeTrue)
	test.That(t, *status.Operator, test.ShouldEqual, "cashier")
}
