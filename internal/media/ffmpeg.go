package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// FFmpegConfig describes the capture devices available to an FFmpegAcquirer
type FFmpegConfig struct {
	// Devices maps a facing mode to a V4L2 path or an rtsp/http URL
	Devices      map[Facing]string
	FPS          int
	Width        int
	Height       int
	StartTimeout time.Duration
}

// FFmpegAcquirer opens cameras by running ffmpeg and reading MJPEG from its stdout
type FFmpegAcquirer struct {
	cfg    FFmpegConfig
	logger *zap.SugaredLogger
}

// NewFFmpegAcquirer creates an acquirer for the configured devices
func NewFFmpegAcquirer(cfg FFmpegConfig, logger *zap.SugaredLogger) *FFmpegAcquirer {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &FFmpegAcquirer{cfg: cfg, logger: logger}
}

// candidates returns devices in preference order: requested facing first
func (a *FFmpegAcquirer) candidates(preferred Facing) []string {
	order := []Facing{preferred, FacingEnvironment, FacingUser}
	seen := make(map[string]bool)
	var devices []string
	for _, f := range order {
		dev := a.cfg.Devices[f]
		if dev == "" || seen[dev] {
			continue
		}
		seen[dev] = true
		devices = append(devices, dev)
	}
	return devices
}

// Acquire opens the first accessible device, preferring c.Facing.
// Every failure wraps ErrUnavailable.
func (a *FFmpegAcquirer) Acquire(ctx context.Context, c Constraints) (MediaStream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %v", ErrUnavailable, err)
	}

	devices := a.candidates(c.Facing)
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no camera devices configured", ErrUnavailable)
	}

	var lastErr error
	for _, dev := range devices {
		if !deviceAccessible(dev) {
			lastErr = fmt.Errorf("camera device %s is not accessible", dev)
			continue
		}
		ms, err := a.open(ctx, dev)
		if err != nil {
			a.logger.Warnf("failed to open camera %s: %v", dev, err)
			lastErr = err
			continue
		}
		return ms, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (a *FFmpegAcquirer) inputArgs(device string) ffmpeg.KwArgs {
	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return ffmpeg.KwArgs{"rtsp_transport": "tcp"}
	case isNetworkSource(device):
		return ffmpeg.KwArgs{}
	default:
		args := ffmpeg.KwArgs{"f": "v4l2", "framerate": a.cfg.FPS}
		if a.cfg.Width > 0 && a.cfg.Height > 0 {
			args["video_size"] = fmt.Sprintf("%dx%d", a.cfg.Width, a.cfg.Height)
		}
		return args
	}
}

func (a *FFmpegAcquirer) open(ctx context.Context, device string) (*ffmpegStream, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	ms := &ffmpegStream{
		id:     uuid.NewString(),
		frames: make(chan []byte, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ms.track = &videoTrack{label: device, stream: ms}

	stream := ffmpeg.Input(device, a.inputArgs(device)).
		Output("pipe:", ffmpeg.KwArgs{"f": "image2pipe", "vcodec": "mjpeg", "q:v": 5, "r": a.cfg.FPS})
	stream.Context = runCtx

	go func() {
		err := stream.WithOutput(pw).Run()
		if err != nil && runCtx.Err() == nil {
			a.logger.Warnf("ffmpeg for %s exited: %v", device, err)
		}
		pw.CloseWithError(io.EOF)
	}()

	first := make(chan struct{})
	go ms.readFrames(pr, first)

	timer := time.NewTimer(a.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-first:
		a.logger.Infof("camera %s streaming (stream %s, fps %d)", device, ms.id, a.cfg.FPS)
		return ms, nil
	case <-ms.done:
		return nil, fmt.Errorf("ffmpeg exited before the first frame from %s", device)
	case <-timer.C:
		_ = ms.track.Stop()
		return nil, fmt.Errorf("no frame from %s within %s", device, a.cfg.StartTimeout)
	case <-ctx.Done():
		_ = ms.track.Stop()
		return nil, ctx.Err()
	}
}

// ffmpegStream is a MediaStream backed by one ffmpeg process
type ffmpegStream struct {
	id     string
	track  *videoTrack
	frames chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *ffmpegStream) ID() string            { return s.id }
func (s *ffmpegStream) Tracks() []Track       { return []Track{s.track} }
func (s *ffmpegStream) Frames() <-chan []byte { return s.frames }

// readFrames cuts JPEG frames out of the pipe and keeps only the newest one queued
func (s *ffmpegStream) readFrames(r io.ReadCloser, first chan struct{}) {
	defer close(s.done)
	defer close(s.frames)
	defer r.Close()

	var once sync.Once
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := ExtractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				s.push(frame)
				once.Do(func() { close(first) })
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *ffmpegStream) push(frame []byte) {
	select {
	case s.frames <- frame:
		return
	default:
	}
	// drop the stale frame
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- frame:
	default:
	}
}

type videoTrack struct {
	label  string
	stream *ffmpegStream
	once   sync.Once
}

func (t *videoTrack) Kind() string  { return "video" }
func (t *videoTrack) Label() string { return t.label }

func (t *videoTrack) Stop() error {
	t.once.Do(func() {
		t.stream.cancel()
		<-t.stream.done
	})
	return nil
}

// ExtractJPEGFrame removes and returns the first complete JPEG (FFD8..FFD9) in buffer
func ExtractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	startIdx := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// keep a trailing 0xFF that may begin the next marker
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	endIdx := -1
	for i := startIdx + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, buf[startIdx:endIdx])
	*buffer = buf[endIdx:]

	return frame
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceAccessible checks that a local device exists and can be opened.
// Network sources are verified when ffmpeg connects.
func deviceAccessible(device string) bool {
	if isNetworkSource(device) {
		return true
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
