package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"

	"posvision/internal/overlay"
	"posvision/internal/state"
)

// ErrNoPreview is returned when no still image has been uploaded or captured
var ErrNoPreview = errors.New("no preview image")

// PreviewService renders the still preview with the current result drawn over it
type PreviewService struct {
	store *state.Store
}

// NewPreviewService creates a preview renderer over store
func NewPreviewService(store *state.Store) *PreviewService {
	return &PreviewService{store: store}
}

// WritePNG composes the preview at width x height; a zero size uses the image's own
func (p *PreviewService) WritePNG(w io.Writer, width, height int) error {
	data, _ := p.store.Preview()
	if data == nil {
		return ErrNoPreview
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode preview: %w", err)
	}

	if width <= 0 || height <= 0 {
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}

	composed := overlay.Compose(img, p.store.Result(), width, height)
	return png.Encode(w, composed)
}
