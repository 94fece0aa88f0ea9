package detector

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/inference"
)

type fakeModel struct {
	size int
	dets []RawDetection
	err  error
}

func (m *fakeModel) Infer(_ context.Context, img image.Image) ([]RawDetection, error) {
	if img.Bounds().Dx() != m.size {
		return nil, assert.AnError
	}
	return m.dets, m.err
}

func (m *fakeModel) InputSize() int { return m.size }

func testImage(t *testing.T, w, h int) *imageio.InputImage {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			src.Set(x, y, color.Gray{Y: 128})
		}
	}
	in, err := imageio.FromImage("inputs/demo/IMG_0001.jpg", src, 64)
	require.NoError(t, err)
	return in
}

func TestRescaleRoundTrip(t *testing.T) {
	t.Parallel()

	box, err := Rescale(16, 8, 48, 40, 64, 1280, 960)
	require.NoError(t, err)
	assert.InDelta(t, 320, box.X, 1e-9)
	assert.InDelta(t, 120, box.Y, 1e-9)
	assert.InDelta(t, 640, box.Width, 1e-9)
	assert.InDelta(t, 480, box.Height, 1e-9)

	x1, y1, x2, y2 := ToDetectorSpace(box, 64, 1280, 960)
	assert.InDelta(t, 16, x1, 1e-9)
	assert.InDelta(t, 8, y1, 1e-9)
	assert.InDelta(t, 48, x2, 1e-9)
	assert.InDelta(t, 40, y2, 1e-9)
}

func TestRescaleIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := -1.0
	for det := 0.0; det <= 640; det += 7.5 {
		box, err := Rescale(det, det, 640, 640, 640, 1920, 1080)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, box.X, prev)
		prev = box.X
	}
}

func TestNewBoundingBox(t *testing.T) {
	t.Parallel()

	box, err := NewBoundingBox(120, 90, -10, -5, 100, 80)
	require.NoError(t, err)
	x1, y1, x2, y2 := box.Corners()
	assert.Equal(t, []float64{0, 0, 100, 80}, []float64{x1, y1, x2, y2})

	_, err = NewBoundingBox(math.NaN(), 0, 1, 1, 10, 10)
	require.Error(t, err)
	_, err = NewBoundingBox(0, 0, math.Inf(1), 1, 10, 10)
	require.Error(t, err)
	_, err = Rescale(0, 0, 1, 1, 0, 10, 10)
	require.Error(t, err)
}

func TestBoundingBoxJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(BoundingBox{X: 1, Y: 2, Width: 3, Height: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, string(data))

	var b BoundingBox
	require.NoError(t, json.Unmarshal([]byte(`[5,6,7,8]`), &b))
	assert.Equal(t, BoundingBox{X: 5, Y: 6, Width: 7, Height: 8}, b)
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &b))
}

func TestDetectRescalesToOriginal(t *testing.T) {
	t.Parallel()

	model := &fakeModel{size: 64, dets: []RawDetection{
		{X1: 0, Y1: 0, X2: 32, Y2: 32, Score: 0.8, Label: "Crocuta_crocuta"},
		{X1: 10, Y1: 10, X2: 10, Y2: 30, Score: 0.9, Label: "Crocuta_crocuta"}, // zero width
	}}
	det := New(model)

	got, err := det.Detect(t.Context(), testImage(t, 200, 100))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "inputs/demo/IMG_0001.jpg", got[0].ImageID)
	assert.InDelta(t, 100, got[0].Box.Width, 1e-9)
	assert.InDelta(t, 50, got[0].Box.Height, 1e-9)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-9)
}

func TestDetectEmitsSentinel(t *testing.T) {
	t.Parallel()

	det := New(&fakeModel{size: 64})
	got, err := det.Detect(t.Context(), testImage(t, 50, 50))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsUndetected())
	assert.Empty(t, got[0].Label)

	// filtered to nothing also yields the sentinel
	det = New(&fakeModel{size: 64, dets: []RawDetection{{X2: 10, Y2: 10, Score: 0.3}}}, NewScoreFilter(0.5))
	got, err = det.Detect(t.Context(), testImage(t, 50, 50))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsUndetected())
}

func TestDetectWrapsModelErrors(t *testing.T) {
	t.Parallel()

	det := New(&fakeModel{size: 64, err: assert.AnError})
	_, err := det.Detect(t.Context(), testImage(t, 50, 50))
	require.ErrorIs(t, err, assert.AnError)
}

func TestCounterKeepsConfidentBoxes(t *testing.T) {
	t.Parallel()

	model := &fakeModel{size: 64, dets: []RawDetection{
		{X1: 2, Y1: 2, X2: 20, Y2: 20, Score: 0.9, Label: "elephant"},
		{X1: 30, Y1: 30, X2: 50, Y2: 50, Score: 0.4, Label: "elephant"},
		{X1: 5, Y1: 30, X2: 25, Y2: 60, Score: 0.95, Label: "zebra"},
	}}
	counter := NewCounter(New(model), DefaultCountThreshold, "elephant")

	img := testImage(t, 128, 128)
	res, err := counter.Count(t.Context(), img)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count)
	require.Len(t, res.Boxes, 1)
	assert.InDelta(t, 0.9, res.Boxes[0].Confidence, 1e-9)
	assert.Equal(t, img.Image.Bounds(), res.Annotated.Bounds())
	assert.Equal(t, "elephant: 90.00%", res.Boxes[0].OverlayLabel())
}

func TestCounterWithNoDetections(t *testing.T) {
	t.Parallel()

	counter := NewCounter(New(&fakeModel{size: 64}), DefaultCountThreshold, "elephant")
	res, err := counter.Count(t.Context(), testImage(t, 40, 40))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Boxes)
}

func TestPostprocessors(t *testing.T) {
	t.Parallel()

	small := &BoundingBox{Width: 2, Height: 2}
	big := &BoundingBox{Width: 20, Height: 20}
	in := []Candidate{
		{Label: "a", Confidence: 0.2, Box: big},
		{Label: "b", Confidence: 0.8, Box: small},
		{Label: "a", Confidence: 0.9, Box: big},
	}

	assert.Len(t, NewScoreFilter(0.5)(in), 2)
	assert.Len(t, NewLabelFilter("a")(in), 2)
	assert.Len(t, NewAreaFilter(10)(in), 2)
	out := Chain(NewScoreFilter(0.5), NewLabelFilter("a"), NewAreaFilter(10))(in)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
	assert.Len(t, in, 3, "input slice must not be modified")
}

func TestDecodeYOLO(t *testing.T) {
	t.Parallel()

	// three rows of [cx, cy, w, h, obj, cls0, cls1], normalised coordinates
	data := []float32{
		0.5, 0.5, 0.2, 0.2, 0.9, 0.1, 0.9, // class 1, score 0.81
		0.51, 0.5, 0.2, 0.2, 0.8, 0.1, 0.9, // overlaps the first, suppressed
		0.1, 0.1, 0.1, 0.1, 0.2, 0.9, 0.1, // below the score floor
	}
	out := inference.Output{Data: data, Shape: []int{1, 3, 7}}

	dets, err := DecodeYOLO(out, 100, []string{"Panthera_pardus", "Crocuta_crocuta"}, DefaultNMS)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	assert.Equal(t, "Crocuta_crocuta", dets[0].Label)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.81, dets[0].Score, 1e-6)
	assert.InDelta(t, 40, dets[0].X1, 1e-4)
	assert.InDelta(t, 60, dets[0].X2, 1e-4)

	_, err = DecodeYOLO(inference.Output{Data: data, Shape: []int{3, 7}}, 100, nil, DefaultNMS)
	assert.Error(t, err)
}

func TestNMSKeepsOtherClasses(t *testing.T) {
	t.Parallel()

	dets := []RawDetection{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: 0.5, ClassID: 0},
		{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: 0.7, ClassID: 1},
		{X1: 1, Y1: 1, X2: 10, Y2: 10, Score: 0.6, ClassID: 1},
	}
	kept := NMS(dets, 0.45, 300)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.7, kept[0].Score, 1e-9)
	assert.Equal(t, 0, kept[1].ClassID)

	assert.Len(t, NMS(dets, 0.99, 1), 1)
}
