package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadPreparesDetectorBuffer(t *testing.T) {
	t.Parallel()

	data := pngBytes(t, solidImage(1280, 960, color.RGBA{R: 200, A: 255}))

	in, err := Load("inputs/demo/IMG_0001.png", data, 640)
	require.NoError(t, err)

	assert.Equal(t, 1280, in.Width)
	assert.Equal(t, 960, in.Height)
	assert.Equal(t, image.Rect(0, 0, 640, 640), in.Resized.Bounds())
	assert.Equal(t, "IMG_0001.png", in.BaseName())
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Load("broken.jpg", []byte("not an image"), 640)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
}

func TestFromImageRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := FromImage("empty", image.NewRGBA(image.Rect(0, 0, 0, 0)), 640)
	require.Error(t, err)

	_, err = FromImage("ok", solidImage(4, 4, color.White), 0)
	require.Error(t, err)
}

func TestCropAndEncode(t *testing.T) {
	t.Parallel()

	src := solidImage(100, 80, color.RGBA{G: 255, A: 255})
	crop := Crop(src, image.Rect(10, 20, 60, 70))
	assert.Equal(t, 50, crop.Bounds().Dx())
	assert.Equal(t, 50, crop.Bounds().Dy())

	data, err := JPEGBytes(crop, 90)
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, crop.Bounds().Size(), decoded.Bounds().Size())
}

func TestDrawOverlaysKeepsSizeAndMarksBox(t *testing.T) {
	t.Parallel()

	src := solidImage(200, 100, color.White)
	out := DrawOverlays(src, []Overlay{{Rect: image.Rect(20, 20, 120, 80), Label: "Crocuta_crocuta: 91.00%"}})

	assert.Equal(t, src.Bounds().Size(), out.Bounds().Size())
	r, g, b, _ := out.At(70, 20).RGBA()
	assert.Greater(t, r, g, "box edge should be drawn in the overlay color")
	assert.Greater(t, r, b)

	// the source stays untouched
	r0, g0, _, _ := src.At(70, 20).RGBA()
	assert.Equal(t, r0, g0)
}
