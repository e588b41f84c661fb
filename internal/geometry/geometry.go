package geometry

// Rect is an axis-aligned rectangle in destination (display) pixel space
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Right returns the x coordinate of the right edge
func (r Rect) Right() float64 {
	return r.Left + r.Width
}

// Bottom returns the y coordinate of the bottom edge
func (r Rect) Bottom() float64 {
	return r.Top + r.Height
}

// Scale returns the independent horizontal and vertical factors that map
// an imageWidth x imageHeight space onto displayWidth x displayHeight.
// Aspect ratio is not preserved: the displayed image is stretched the same way.
func Scale(imageWidth, imageHeight, displayWidth, displayHeight float64) (scaleX, scaleY float64) {
	return displayWidth / imageWidth, displayHeight / imageHeight
}

// MapBox maps a source-space box (x1, y1, x2, y2) to a destination rectangle.
// A zero-sized source yields non-finite values; callers get what they pass.
func MapBox(x1, y1, x2, y2, imageWidth, imageHeight, displayWidth, displayHeight float64) Rect {
	scaleX, scaleY := Scale(imageWidth, imageHeight, displayWidth, displayHeight)

	return Rect{
		Left:   x1 * scaleX,
		Top:    y1 * scaleY,
		Width:  (x2 - x1) * scaleX,
		Height: (y2 - y1) * scaleY,
	}
}
