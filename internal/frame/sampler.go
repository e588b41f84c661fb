package frame

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"go.uber.org/zap"
)

const (
	// ManualQuality is used for explicit single-shot captures
	ManualQuality = 0.92
	// StreamQuality trades fidelity for smaller payloads in the streaming loop
	StreamQuality = 0.8

	StreamFilename  = "frame.jpg"
	CaptureFilename = "capture.jpg"
	ContentTypeJPEG = "image/jpeg"
)

// Payload is a compressed image ready to be submitted for inference
type Payload struct {
	Data        []byte
	Filename    string
	ContentType string
	Width       int
	Height      int
}

// Source is a video source that may or may not hold a decodable frame yet
type Source interface {
	// Ready reports whether the source has enough data to produce a frame
	Ready() bool

	// CurrentFrame returns the latest frame at its native resolution
	CurrentFrame() (image.Image, error)
}

// Sampler captures the current frame of a Source into a JPEG payload
type Sampler struct {
	src    Source
	logger *zap.SugaredLogger
}

// NewSampler creates a sampler bound to a video source
func NewSampler(src Source, logger *zap.SugaredLogger) *Sampler {
	return &Sampler{src: src, logger: logger}
}

// Sample draws the current frame into an offscreen raster of the source's
// native size and encodes it at quality (0..1). It returns false, silently,
// when the source is not ready or encoding fails.
func (s *Sampler) Sample(quality float64) (*Payload, bool) {
	if s.src == nil || !s.src.Ready() {
		return nil, false
	}

	img, err := s.src.CurrentFrame()
	if err != nil || img == nil {
		s.logger.Debugf("frame not available: %v", err)
		return nil, false
	}

	bounds := img.Bounds()
	raster := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(raster, raster.Bounds(), img, bounds.Min, draw.Src)

	data, err := Encode(raster, quality)
	if err != nil {
		s.logger.Debugf("frame encode failed: %v", err)
		return nil, false
	}

	return &Payload{
		Data:        data,
		Filename:    StreamFilename,
		ContentType: ContentTypeJPEG,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, true
}

// Encode JPEG-encodes img with a 0..1 quality factor
func Encode(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
