package imageio

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Overlay is one labelled rectangle drawn onto an annotated image
type Overlay struct {
	Rect  image.Rectangle
	Label string
}

// BoxColor is the stroke and label color of overlays
var BoxColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// DrawOverlays returns a copy of img with every overlay's rectangle and label drawn on it.
// Line width and font size scale with the image so labels stay legible on large photos.
func DrawOverlays(img image.Image, overlays []Overlay) image.Image {
	dc := gg.NewContextForImage(img)
	b := img.Bounds()
	scale := math.Max(1, float64(max(b.Dx(), b.Dy()))/640)
	lineWidth := 2 * scale
	fontSize := 14 * scale
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, o := range overlays {
		r := o.Rect.Sub(b.Min)
		drawRectangleEmpty(dc, r, BoxColor, lineWidth)
		if o.Label == "" {
			continue
		}
		y := float64(r.Min.Y) - lineWidth
		if y < fontSize {
			y = float64(r.Min.Y) + fontSize + lineWidth
		}
		dc.SetColor(BoxColor)
		dc.DrawString(o.Label, float64(r.Min.X)+lineWidth, y)
	}
	return dc.Image()
}

func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}
