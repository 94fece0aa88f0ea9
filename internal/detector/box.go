package detector

import (
	"encoding/json"
	"fmt"
	"image"
	"math"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

// BoundingBox is an axis-aligned box in original image pixel space
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// NewBoundingBox builds a box from corners in original pixel space, ordering the corners
// and clipping them to a width x height image. Non-finite input is rejected.
func NewBoundingBox(x1, y1, x2, y2 float64, width, height int) (BoundingBox, error) {
	for _, v := range []float64{x1, y1, x2, y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, errors.Newf("bounding box coordinate is not finite").
				Component("detector").
				Category(errors.CategoryValidation).
				Context("corners", []float64{x1, y1, x2, y2}).
				Build()
		}
	}
	if width <= 0 || height <= 0 {
		return BoundingBox{}, errors.Newf("invalid image size %dx%d", width, height).
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	x1, x2 = clamp(x1, 0, float64(width)), clamp(x2, 0, float64(width))
	y1, y2 = clamp(y1, 0, float64(height)), clamp(y2, 0, float64(height))
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, nil
}

// Corners returns (x1, y1, x2, y2) with x1 <= x2 and y1 <= y2
func (b BoundingBox) Corners() (x1, y1, x2, y2 float64) {
	return b.X, b.Y, b.X + b.Width, b.Y + b.Height
}

// Area returns the box area in square pixels
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Empty reports whether the box has no area
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Rect returns the smallest integer rectangle covering the box
func (b BoundingBox) Rect() image.Rectangle {
	x1, y1, x2, y2 := b.Corners()
	return image.Rect(int(math.Floor(x1)), int(math.Floor(y1)), int(math.Ceil(x2)), int(math.Ceil(y2)))
}

// MarshalJSON encodes the box as [x, y, width, height]
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.Width, b.Height})
}

// UnmarshalJSON decodes the [x, y, width, height] form. null decodes to the zero box.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = BoundingBox{}
		return nil
	}
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("bounding box needs 4 values, got %d", len(v))
	}
	*b = BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return nil
}

// Rescale maps corners from the square detector resolution res back to an origW x origH image:
// orig = det / res * origDim per axis. The result is clipped to the image bounds.
func Rescale(x1, y1, x2, y2 float64, res, origW, origH int) (BoundingBox, error) {
	if res <= 0 {
		return BoundingBox{}, errors.Newf("invalid detector resolution %d", res).
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}
	sx := float64(origW) / float64(res)
	sy := float64(origH) / float64(res)
	return NewBoundingBox(x1*sx, y1*sy, x2*sx, y2*sy, origW, origH)
}

// ToDetectorSpace is the inverse of Rescale: det = orig / origDim * res
func ToDetectorSpace(b BoundingBox, res, origW, origH int) (x1, y1, x2, y2 float64) {
	ox1, oy1, ox2, oy2 := b.Corners()
	sx := float64(res) / float64(origW)
	sy := float64(res) / float64(origH)
	return ox1 * sx, oy1 * sy, ox2 * sx, oy2 * sy
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
