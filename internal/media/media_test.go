package media_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"posvision/internal/media"
	"posvision/internal/media/mediatest"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExtractJPEGFrame(t *testing.T) {
	buf := []byte{0x00, 0x01, 0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9, 0xFF, 0xD8, 0xCC}

	frame := media.ExtractJPEGFrame(&buf)
	test.That(t, frame, test.ShouldResemble, []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9})
	test.That(t, buf, test.ShouldResemble, []byte{0xFF, 0xD8, 0xCC})

	// incomplete frame stays buffered
	test.That(t, media.ExtractJPEGFrame(&buf), test.ShouldBeNil)
	test.That(t, len(buf), test.ShouldEqual, 3)

	buf = append(buf, 0xFF, 0xD9)
	test.That(t, media.ExtractJPEGFrame(&buf), test.ShouldResemble, []byte{0xFF, 0xD8, 0xCC, 0xFF, 0xD9})
	test.That(t, len(buf), test.ShouldEqual, 0)
}

func TestExtractJPEGFrameDropsGarbage(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0xFF}
	test.That(t, media.ExtractJPEGFrame(&buf), test.ShouldBeNil)
	test.That(t, buf, test.ShouldResemble, []byte{0xFF})
}

func TestVideoReadiness(t *testing.T) {
	v := media.NewVideo(320, 240)
	test.That(t, v.Ready(), test.ShouldBeFalse)
	_, err := v.CurrentFrame()
	test.That(t, err, test.ShouldEqual, media.ErrNoFrame)

	s := mediatest.NewStream("s1")
	v.Attach(s)
	test.That(t, v.Source(), test.ShouldEqual, s)
	test.That(t, v.Ready(), test.ShouldBeFalse)

	s.PushImage(64, 48)
	waitFor(t, v.Ready)

	w, h := v.NativeSize()
	test.That(t, w, test.ShouldEqual, 64)
	test.That(t, h, test.ShouldEqual, 48)
	img, err := v.CurrentFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 64)

	data, seq := v.FrameJPEG()
	test.That(t, data, test.ShouldNotBeNil)
	test.That(t, seq, test.ShouldEqual, uint64(1))
	s.PushImage(64, 48)
	waitFor(t, func() bool { _, seq := v.FrameJPEG(); return seq == 2 })

	dw, dh := v.DisplaySize()
	test.That(t, dw, test.ShouldEqual, 320)
	test.That(t, dh, test.ShouldEqual, 240)

	test.That(t, v.Detach(), test.ShouldEqual, s)
	test.That(t, v.Ready(), test.ShouldBeFalse)
	test.That(t, v.Source(), test.ShouldBeNil)
}

func TestVideoIgnoresDetachedStream(t *testing.T) {
	v := media.NewVideo(10, 10)
	old := mediatest.NewStream("old")
	v.Attach(old)
	v.Detach()

	fresh := mediatest.NewStream("new")
	v.Attach(fresh)
	old.PushImage(8, 8)
	fresh.PushImage(16, 16)

	waitFor(t, v.Ready)
	w, _ := v.NativeSize()
	test.That(t, w, test.ShouldEqual, 16)
}

func TestFFmpegAcquirerWithoutDevices(t *testing.T) {
	a := media.NewFFmpegAcquirer(media.FFmpegConfig{
		Devices: map[media.Facing]string{media.FacingEnvironment: "/dev/does-not-exist-posvision"},
	}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := a.Acquire(ctx, media.Constraints{Facing: media.FacingEnvironment})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err, test.ShouldWrap, media.ErrUnavailable)
}
