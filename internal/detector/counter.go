package detector

import (
	"context"
	"image"

	"github.com/tphakala/wildlife-reid/internal/imageio"
)

// DefaultCountThreshold is the confidence floor of the single species counter
const DefaultCountThreshold = 0.75

// CountResult is the outcome of counting one species in one image
type CountResult struct {
	Boxes     []Candidate
	Count     int
	Annotated image.Image
}

// Counter counts confident detections of a single label on top of the general detector
type Counter struct {
	detector *Detector
	filter   Postprocessor
	label    string
}

// NewCounter layers a score filter and a label filter on det
func NewCounter(det *Detector, threshold float64, label string) *Counter {
	return &Counter{
		detector: det,
		filter:   Chain(NewScoreFilter(threshold), NewLabelFilter(label)),
		label:    label,
	}
}

// Count detects, filters and draws every surviving box with its label and confidence
func (c *Counter) Count(ctx context.Context, img *imageio.InputImage) (*CountResult, error) {
	candidates, err := c.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	boxed := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.IsUndetected() {
			boxed = append(boxed, cand)
		}
	}
	kept := c.filter(boxed)

	overlays := make([]imageio.Overlay, len(kept))
	for i, cand := range kept {
		overlays[i] = imageio.Overlay{Rect: cand.Box.Rect(), Label: cand.OverlayLabel()}
	}

	return &CountResult{
		Boxes:     kept,
		Count:     len(kept),
		Annotated: imageio.DrawOverlays(img.Image, overlays),
	}, nil
}

// Label returns the counted label
func (c *Counter) Label() string {
	return c.label
}

// InputSize returns the underlying detector's input resolution
func (c *Counter) InputSize() int {
	return c.detector.InputSize()
}
