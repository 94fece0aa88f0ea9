package detector

import "fmt"

// Candidate is one detected animal in an image. A candidate without a box is the
// "undetected" sentinel emitted for images with no detections.
type Candidate struct {
	ImageID    string
	Box        *BoundingBox
	Confidence float64
	Label      string
	ClassID    int
}

// NewUndetected returns the sentinel candidate for an image with no detections
func NewUndetected(imageID string) Candidate {
	return Candidate{ImageID: imageID, ClassID: -1}
}

// IsUndetected reports whether c is the no-detection sentinel
func (c Candidate) IsUndetected() bool {
	return c.Box == nil
}

// OverlayLabel renders "label: 91.23%"
func (c Candidate) OverlayLabel() string {
	return fmt.Sprintf("%s: %.2f%%", c.Label, c.Confidence*100)
}
