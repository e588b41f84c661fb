package overlay

import (
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"posvision/internal/geometry"
)

// Surface is a 2D drawing surface: rectangles and text, nothing else
type Surface interface {
	// Resize sets the drawing-surface dimensions; prior content is discarded
	Resize(width, height int)
	// Clear makes every pixel transparent
	Clear()
	Size() (width, height int)

	SetStrokeColor(c color.Color)
	SetFillColor(c color.Color)
	SetLineWidth(w float64)

	StrokeRect(r geometry.Rect)
	FillRect(r geometry.Rect)
	// FillText draws s with its baseline at y
	FillText(s string, x, y float64)
	MeasureText(s string) float64
}

// Canvas is a Surface owner that can be painted atomically
type Canvas interface {
	Paint(fn func(s Surface))
}

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// FontSize is the label size in pixels
const FontSize = 12

func newFace() font.Face {
	return truetype.NewFace(labelFont, &truetype.Options{Size: FontSize})
}

// RasterCanvas is an in-memory RGBA canvas backed by gg
type RasterCanvas struct {
	mu     sync.RWMutex
	dc     *gg.Context
	face   font.Face
	stroke color.Color
	fill   color.Color
	line   float64
}

// NewRasterCanvas creates a transparent canvas of the given size
func NewRasterCanvas(width, height int) *RasterCanvas {
	c := &RasterCanvas{
		face:   newFace(),
		stroke: color.Black,
		fill:   color.Black,
		line:   1,
	}
	c.resize(width, height)
	return c
}

// Paint runs fn with exclusive access to the surface
func (c *RasterCanvas) Paint(fn func(s Surface)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(rasterSurface{c})
}

// Image returns a copy of the current pixels
func (c *RasterCanvas) Image() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src := c.dc.Image().(*image.RGBA)
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// EncodePNG writes the current pixels as PNG
func (c *RasterCanvas) EncodePNG(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dc.EncodePNG(w)
}

// Size returns the current surface dimensions
func (c *RasterCanvas) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dc.Width(), c.dc.Height()
}

func (c *RasterCanvas) resize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	c.dc = gg.NewContext(width, height)
	c.dc.SetFontFace(c.face)
}

// rasterSurface is the Surface view handed out while the canvas lock is held
type rasterSurface struct {
	c *RasterCanvas
}

func (s rasterSurface) Resize(width, height int) { s.c.resize(width, height) }

func (s rasterSurface) Clear() {
	s.c.dc.SetColor(color.Transparent)
	s.c.dc.Clear()
}

func (s rasterSurface) Size() (int, int) { return s.c.dc.Width(), s.c.dc.Height() }

func (s rasterSurface) SetStrokeColor(c color.Color) { s.c.stroke = c }
func (s rasterSurface) SetFillColor(c color.Color)   { s.c.fill = c }
func (s rasterSurface) SetLineWidth(w float64)       { s.c.line = w }

func (s rasterSurface) StrokeRect(r geometry.Rect) {
	dc := s.c.dc
	dc.SetColor(s.c.stroke)
	dc.SetLineWidth(s.c.line)
	dc.DrawRectangle(r.Left, r.Top, r.Width, r.Height)
	dc.Stroke()
}

func (s rasterSurface) FillRect(r geometry.Rect) {
	dc := s.c.dc
	dc.SetColor(s.c.fill)
	dc.DrawRectangle(r.Left, r.Top, r.Width, r.Height)
	dc.Fill()
}

func (s rasterSurface) FillText(text string, x, y float64) {
	dc := s.c.dc
	dc.SetColor(s.c.fill)
	dc.DrawString(text, x, y)
}

func (s rasterSurface) MeasureText(text string) float64 {
	w, _ := s.c.dc.MeasureString(text)
	return w
}
