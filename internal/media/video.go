package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
)

// ErrNoFrame is returned when the video holds no current frame
var ErrNoFrame = errors.New("no current frame")

// Video plays a MediaStream and holds its latest frame, like a video element
type Video struct {
	mu      sync.RWMutex
	src     MediaStream
	frame   []byte
	native  image.Point
	display image.Point
	gen     uint64
	seq     uint64
}

// NewVideo creates a detached video with the given display (client) size
func NewVideo(displayWidth, displayHeight int) *Video {
	return &Video{display: image.Pt(displayWidth, displayHeight)}
}

// Attach binds a stream as the video source and starts playing it.
// Any previously attached stream is detached first, not stopped.
func (v *Video) Attach(ms MediaStream) {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.src = ms
	v.frame = nil
	v.native = image.Point{}
	v.mu.Unlock()

	go v.play(ms, gen)
}

// Detach unbinds the current source and drops the held frame
func (v *Video) Detach() MediaStream {
	v.mu.Lock()
	defer v.mu.Unlock()

	ms := v.src
	v.gen++
	v.src = nil
	v.frame = nil
	v.native = image.Point{}
	return ms
}

// Source returns the attached stream, if any
func (v *Video) Source() MediaStream {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.src
}

func (v *Video) play(ms MediaStream, gen uint64) {
	for data := range ms.Frames() {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			continue
		}
		if !v.present(gen, data, image.Pt(cfg.Width, cfg.Height)) {
			return
		}
	}
}

// present stores a frame unless the source was replaced; false means stop playing
func (v *Video) present(gen uint64, data []byte, size image.Point) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen {
		return false
	}
	v.frame = data
	v.native = size
	v.seq++
	return true
}

// Ready reports whether a current frame is available
func (v *Video) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.src != nil && v.frame != nil
}

// NativeSize returns the intrinsic video width and height
func (v *Video) NativeSize() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.native.X, v.native.Y
}

// CurrentFrame decodes the latest frame at its native resolution
func (v *Video) CurrentFrame() (image.Image, error) {
	v.mu.RLock()
	data := v.frame
	v.mu.RUnlock()

	if data == nil {
		return nil, ErrNoFrame
	}
	return jpeg.Decode(bytes.NewReader(data))
}

// FrameJPEG returns the latest encoded frame and its sequence number.
// The sequence grows by one per presented frame; nil means no frame.
func (v *Video) FrameJPEG() ([]byte, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame, v.seq
}

// SetDisplaySize sets the on-screen size the video is stretched to
func (v *Video) SetDisplaySize(width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.display = image.Pt(width, height)
}

// DisplaySize returns the on-screen width and height
func (v *Video) DisplaySize() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.display.X, v.display.Y
}
