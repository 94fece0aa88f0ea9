// Package imageio decodes, resizes, crops and encodes the photos flowing through the pipeline.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

// InputImage is a decoded photo plus its square detector-resolution copy. Immutable after Load.
type InputImage struct {
	ID      string      // blob key or file path the image was read from
	Width   int         // original width in pixels, after EXIF orientation
	Height  int         // original height in pixels, after EXIF orientation
	Image   image.Image // original pixels
	Resized image.Image // detector input, Size x Size
	Size    int
}

// Load decodes data into an InputImage and prepares a size x size detector buffer.
// Undecodable or zero-sized images fail with a validation error.
func Load(id string, data []byte, size int) (*InputImage, error) {
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode %s: %w", id, err)).
			Component("imageio").
			Category(errors.CategoryImageDecode).
			Context("image_id", id).
			Build()
	}
	return FromImage(id, img, size)
}

// FromImage wraps an already decoded image
func FromImage(id string, img image.Image, size int) (*InputImage, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid detector size %d", size).
			Component("imageio").
			Category(errors.CategoryValidation).
			Build()
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Newf("image %s has zero size", id).
			Component("imageio").
			Category(errors.CategoryImageDecode).
			Context("image_id", id).
			Build()
	}
	return &InputImage{
		ID:      id,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Image:   img,
		Resized: Resize(img, size, size),
		Size:    size,
	}, nil
}

// BaseName returns the last path element of the image id
func (i *InputImage) BaseName() string {
	return path.Base(i.ID)
}

// Decode reads any registered image format, applying EXIF orientation
func Decode(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// Resize scales img to exactly width x height with bilinear interpolation
func Resize(img image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}

// Crop returns the part of img inside rect, clipped to the image bounds
func Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

// EncodeJPEG writes img as JPEG with the given quality
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// JPEGBytes encodes img into a new buffer
func JPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
