package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"posvision/internal/detection"
	"posvision/internal/geometry"
)

var (
	// BoxColor is used for the rectangle stroke and the label text
	BoxColor = color.RGBA{0x35, 0xd0, 0xba, 0xff}
	// TagColor is the label background
	TagColor = color.RGBA{0x0b, 0x1e, 0x1b, 0xff}
)

const (
	LineWidth = 2

	// label tag placement relative to the box's top-left corner
	tagOffsetY  = 18
	tagHeight   = 16
	tagPadding  = 10
	textOffsetX = 4
	textOffsetY = 6
)

// Renderer draws detection overlays scaled to a display size
type Renderer struct{}

// NewRenderer creates an overlay renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render resizes the canvas to displayWidth x displayHeight, clears it and
// draws every detection in result order. The result is never modified.
func (r *Renderer) Render(result *detection.InferenceResult, canvas Canvas, displayWidth, displayHeight int) {
	canvas.Paint(func(s Surface) {
		s.Resize(displayWidth, displayHeight)
		s.Clear()
		if result == nil {
			return
		}
		DrawDetections(s, result, float64(displayWidth), float64(displayHeight))
	})
}

// DrawDetections draws onto an already-prepared surface without resizing or clearing
func DrawDetections(s Surface, result *detection.InferenceResult, displayWidth, displayHeight float64) {
	s.SetStrokeColor(BoxColor)
	s.SetLineWidth(LineWidth)
	s.SetFillColor(TagColor)

	imgW, imgH := float64(result.ImageWidth), float64(result.ImageHeight)

	for _, det := range result.Detections {
		box := geometry.MapBox(det.Box.X1(), det.Box.Y1(), det.Box.X2(), det.Box.Y2(), imgW, imgH, displayWidth, displayHeight)
		s.StrokeRect(box)

		label := det.TagText()
		textWidth := s.MeasureText(label)
		s.FillRect(geometry.Rect{
			Left:   box.Left,
			Top:    box.Top - tagOffsetY,
			Width:  textWidth + tagPadding,
			Height: tagHeight,
		})

		s.SetFillColor(BoxColor)
		s.FillText(label, box.Left+textOffsetX, box.Top-textOffsetY)
		s.SetFillColor(TagColor)
	}
}

// Clear wipes a canvas without changing its size
func Clear(canvas Canvas) {
	canvas.Paint(func(s Surface) {
		s.Clear()
	})
}

// Compose stretches base to width x height, the way the displayed element is
// stretched, and draws the overlay for result on top of it
func Compose(base image.Image, result *detection.InferenceResult, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	if base != nil && width > 0 && height > 0 {
		stretched := imaging.Resize(base, width, height, imaging.Linear)
		draw.Draw(out, out.Bounds(), stretched, image.Point{}, draw.Src)
	}

	layer := NewRasterCanvas(width, height)
	NewRenderer().Render(result, layer, width, height)
	draw.Draw(out, out.Bounds(), layer.Image(), image.Point{}, draw.Over)

	return out
}
