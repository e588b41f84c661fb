// Package mediatest provides in-memory cameras for tests.
package mediatest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"posvision/internal/media"
)

// JPEG returns a solid-color JPEG of the given size
func JPEG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(JPEGColor), image.Point{}, draw.Src)
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// Track is a fake video track
type Track struct {
	stopped atomic.Int32
	onStop  func()
}

func (t *Track) Kind() string  { return "video" }
func (t *Track) Label() string { return "fake" }

func (t *Track) Stop() error {
	if t.stopped.Add(1) == 1 && t.onStop != nil {
		t.onStop()
	}
	return nil
}

// Stopped reports whether Stop was called
func (t *Track) Stopped() bool {
	return t.stopped.Load() > 0
}

// Stream is a fake MediaStream fed by Push
type Stream struct {
	id     string
	track  *Track
	frames chan []byte
	once   sync.Once
}

// NewStream creates a stream with one video track
func NewStream(id string) *Stream {
	s := &Stream{id: id, frames: make(chan []byte, 8)}
	s.track = &Track{onStop: s.close}
	return s
}

func (s *Stream) ID() string                  { return s.id }
func (s *Stream) Tracks() []media.Track       { return []media.Track{s.track} }
func (s *Stream) Frames() <-chan []byte       { return s.frames }
func (s *Stream) VideoTrack() *Track          { return s.track }
func (s *Stream) close()                      { s.once.Do(func() { close(s.frames) }) }
func (s *Stream) Push(frame []byte)           { s.frames <- frame }
func (s *Stream) PushImage(width, height int) { s.Push(JPEG(width, height)) }

// Acquirer hands out fake streams or a fixed error
type Acquirer struct {
	mu       sync.Mutex
	Err      error
	Requests []media.Constraints
	Streams  []*Stream
}

func (a *Acquirer) Acquire(ctx context.Context, c media.Constraints) (media.MediaStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Requests = append(a.Requests, c)
	if a.Err != nil {
		return nil, a.Err
	}
	s := NewStream("fake")
	a.Streams = append(a.Streams, s)
	return s, nil
}

// Last returns the most recently acquired stream
func (a *Acquirer) Last() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Streams) == 0 {
		return nil
	}
	return a.Streams[len(a.Streams)-1]
}

// JPEGColor is the color JPEG fills frames with
var JPEGColor = color.RGBA{0x40, 0x80, 0xc0, 0xff}
