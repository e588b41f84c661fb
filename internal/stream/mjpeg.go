// Package stream serves the live camera feed as MJPEG, the viewfinder the
// overlay is drawn on top of.
package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultFPS is the viewfinder refresh rate
const DefaultFPS = 15

// FrameSource yields the latest encoded frame and its sequence number
type FrameSource interface {
	FrameJPEG() ([]byte, uint64)
}

// MJPEGHandler pushes every new frame of a source to connected clients
type MJPEGHandler struct {
	src      FrameSource
	clock    clock.Clock
	interval time.Duration
	clients  atomic.Int32
	logger   *zap.SugaredLogger
}

// NewMJPEGHandler creates a handler polling src fps times per second
func NewMJPEGHandler(src FrameSource, fps int, clk clock.Clock, logger *zap.SugaredLogger) *MJPEGHandler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MJPEGHandler{
		src:      src,
		clock:    clk,
		interval: time.Second / time.Duration(fps),
		logger:   logger,
	}
}

// ClientCount returns the number of connected viewers
func (h *MJPEGHandler) ClientCount() int {
	return int(h.clients.Load())
}

// ServeHTTP streams frames until the client goes away
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.logger.Debugf("viewer connected from %s", r.RemoteAddr)

	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debugf("viewer %s disconnected", r.RemoteAddr)
			return
		case <-ticker.C:
			frame, seq := h.src.FrameJPEG()
			if frame == nil || seq == last {
				continue
			}
			last = seq

			if err := writePart(w, frame); err != nil {
				h.logger.Debugf("viewer %s write failed: %v", r.RemoteAddr, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// SnapshotHandler serves the latest frame as a single JPEG
type SnapshotHandler struct {
	src FrameSource
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(src FrameSource) *SnapshotHandler {
	return &SnapshotHandler{src: src}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame, _ := h.src.FrameJPEG()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	_, _ = w.Write(frame)
}
