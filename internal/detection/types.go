package detection

import (
	"fmt"
	"math"
)

// Box is a bounding box [x1, y1, x2, y2] in source-image pixel coordinates.
// The detection service guarantees x1<x2, y1<y2 within the image; it is not re-validated.
type Box [4]float64

func (b Box) X1() float64 { return b[0] }
func (b Box) Y1() float64 { return b[1] }
func (b Box) X2() float64 { return b[2] }
func (b Box) Y2() float64 { return b[3] }

// Detection represents a single recognized object instance
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // [0-1]
	Box        Box     `json:"box"`
}

// Percent returns the confidence as a whole percentage, rounded to nearest
func (d Detection) Percent() int {
	return int(math.Round(d.Confidence * 100))
}

// TagText returns the overlay label, e.g. "sandwich 87%"
func (d Detection) TagText() string {
	return fmt.Sprintf("%s %d%%", d.Label, d.Percent())
}

// InferenceResult is the detection service response for one submitted image.
// ImageWidth/ImageHeight describe the pixel space the boxes are expressed in.
type InferenceResult struct {
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
	Detections  []Detection `json:"detections"`
	InferenceMs float64     `json:"inferenceMs"`
}

// Count returns the number of detections
func (r *InferenceResult) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Detections)
}

// HealthResponse is returned by the detection service health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}
