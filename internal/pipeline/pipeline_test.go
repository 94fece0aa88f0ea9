package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/classifier"
	"github.com/tphakala/wildlife-reid/internal/collection"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/exporter"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
	"github.com/tphakala/wildlife-reid/internal/species"
)

// scriptedDetector returns fixed candidates per image base name
type scriptedDetector struct {
	boxes map[string][]detector.Candidate
}

func (d *scriptedDetector) InputSize() int { return 32 }

func (d *scriptedDetector) Detect(_ context.Context, img *imageio.InputImage) ([]detector.Candidate, error) {
	cands := d.boxes[img.BaseName()]
	if len(cands) == 0 {
		return []detector.Candidate{detector.NewUndetected(img.ID)}, nil
	}
	out := make([]detector.Candidate, len(cands))
	for i, c := range cands {
		c.ImageID = img.ID
		out[i] = c
	}
	return out, nil
}

type countingEmbedder struct {
	batches []int
}

func (e *countingEmbedder) Extract(_ context.Context, imgs []image.Image) ([][]float32, error) {
	e.batches = append(e.batches, len(imgs))
	out := make([][]float32, len(imgs))
	for i, img := range imgs {
		out[i] = []float32{float32(img.Bounds().Dx()), 1}
	}
	return out, nil
}

// widthClassifier names a crop by its width
type widthClassifier struct{}

func (widthClassifier) PredictNames(x [][]float64) ([]string, error) {
	names := make([]string, len(x))
	for i, row := range x {
		if row[0] > 50 {
			names[i] = "HYENA-BIG"
		} else {
			names[i] = "HYENA-SMALL"
		}
	}
	return names, nil
}

type fakeClassifiers struct {
	trained  map[species.Species]classifier.Classifier
	resolved map[species.Species]int
}

func (f *fakeClassifiers) ClassifierFor(sp species.Species) (classifier.Classifier, *classifier.ArtifactRef, error) {
	f.resolved[sp]++
	if c, ok := f.trained[sp]; ok {
		return c, &classifier.ArtifactRef{Species: sp.ID(), Version: "abc"}, nil
	}
	return classifier.None{}, nil, nil
}

type fixture struct {
	pipeline    *Pipeline
	blobs       blobstore.Store
	annotations *annotation.Store
	embedder    *countingEmbedder
	classifiers *fakeClassifiers
	recorder    *metrics.TestRecorder
}

func box(t *testing.T, x1, y1, x2, y2 float64) *detector.BoundingBox {
	t.Helper()
	b, err := detector.NewBoundingBox(x1, y1, x2, y2, 200, 100)
	require.NoError(t, err)
	return &b
}

func newFixture(t *testing.T, blobs blobstore.Store, boxes map[string][]detector.Candidate, images ...string) *fixture {
	t.Helper()
	ctx := t.Context()

	kv, err := kvstore.Open(&conf.DatabaseSettings{Driver: conf.DriverSQLite, SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	annotations := annotation.NewStore(kv)
	collections := collection.NewService(kv, blobs, annotations, "inputs")
	_, err = collections.Create(ctx, "demo")
	require.NoError(t, err)

	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := range 100 {
		for x := range 200 {
			src.Set(x, y, color.RGBA{R: uint8(x), G: 80, B: uint8(y), A: 255})
		}
	}
	data, err := imageio.JPEGBytes(src, 90)
	require.NoError(t, err)
	for _, name := range images {
		_, err := collections.AddImage(ctx, "demo", name, bytes.NewReader(data))
		require.NoError(t, err)
	}

	f := &fixture{
		blobs:       blobs,
		annotations: annotations,
		embedder:    &countingEmbedder{},
		classifiers: &fakeClassifiers{
			trained:  map[species.Species]classifier.Classifier{species.Hyena: widthClassifier{}},
			resolved: map[species.Species]int{},
		},
		recorder: metrics.NewTestRecorder(),
	}
	f.pipeline = New(Deps{
		Images:      collections,
		Blobs:       blobs,
		Detector:    &scriptedDetector{boxes: boxes},
		Exporter:    exporter.New(blobs, "outputs", 80, nil),
		Embedder:    f.embedder,
		Classifiers: f.classifiers,
		Annotations: annotations,
		Metrics:     &recordingMetrics{TestRecorder: f.recorder},
	})
	return f
}

type recordingMetrics struct {
	*metrics.TestRecorder
	detections []string
}

func (m *recordingMetrics) RecordDetection(sp string) { m.detections = append(m.detections, sp) }
func (m *recordingMetrics) RecordImage()              {}

func localBlobs(t *testing.T) blobstore.Store {
	t.Helper()
	s, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPredictEmitsSentinelForEmptyImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, localBlobs(t), nil, "IMG_0001.jpg")
	list, err := f.pipeline.Predict(t.Context(), "demo")
	require.NoError(t, err)
	require.Len(t, list, 1)

	a := list[0]
	assert.Equal(t, annotation.Undetected, a.PredictedSpecies)
	assert.Equal(t, annotation.Undetected, a.PredictedName)
	assert.Equal(t, detector.BoundingBox{}, a.BBox)
	assert.Zero(t, a.BBoxConfidence)
	assert.Empty(t, a.CroppedFileName)
	assert.Equal(t, "inputs/demo/IMG_0001.jpg", a.FileName)
	assert.Empty(t, f.embedder.batches)
}

func TestPredictGroupsBySpecies(t *testing.T) {
	t.Parallel()

	boxes := map[string][]detector.Candidate{
		"IMG_0002.jpg": {
			{Box: box(t, 0, 0, 80, 60), Confidence: 0.9, Label: "Crocuta_crocuta"},
			{Box: box(t, 100, 10, 130, 50), Confidence: 0.7, Label: "Panthera_pardus"},
		},
		"IMG_0003.jpg": {
			{Box: box(t, 10, 10, 40, 40), Confidence: 0.8, Label: "Crocuta_crocuta"},
			{Box: box(t, 50, 50, 90, 90), Confidence: 0.6, Label: "Equus_quagga"},
		},
	}
	f := newFixture(t, localBlobs(t), boxes, "IMG_0003.jpg", "IMG_0002.jpg", "IMG_0004.jpg")

	list, err := f.pipeline.Predict(t.Context(), "demo")
	require.NoError(t, err)
	require.Len(t, list, 5)

	// one classifier resolution per known species, one embedding batch for the trained one
	assert.Equal(t, 1, f.classifiers.resolved[species.Hyena])
	assert.Equal(t, 1, f.classifiers.resolved[species.Leopard])
	assert.NotContains(t, f.classifiers.resolved, species.None)
	assert.Equal(t, []int{2}, f.embedder.batches)

	byCrop := map[string]annotation.Annotation{}
	for _, a := range list {
		byCrop[a.CroppedFileName] = a
	}
	big := byCrop["outputs/demo/cropped/Crocuta_crocuta/0_IMG_0002.jpg"]
	assert.Equal(t, "HYENA-BIG", big.PredictedName)
	assert.Equal(t, "Crocuta_crocuta", big.PredictedSpecies)
	assert.Equal(t, "outputs/demo/annotated/Crocuta_crocuta/0_IMG_0002.jpg", big.AnnotatedFileName)
	assert.InDelta(t, 0.9, big.BBoxConfidence, 1e-9)
	assert.InDelta(t, 80, big.BBox.Width, 1e-9)

	assert.Equal(t, "HYENA-SMALL", byCrop["outputs/demo/cropped/Crocuta_crocuta/0_IMG_0003.jpg"].PredictedName)
	assert.Equal(t, annotation.Undetected, byCrop["outputs/demo/cropped/Panthera_pardus/1_IMG_0002.jpg"].PredictedName, "cold start")
	zebra := byCrop["outputs/demo/cropped/Equus_quagga/1_IMG_0003.jpg"]
	assert.Equal(t, "Equus_quagga", zebra.PredictedSpecies)
	assert.Equal(t, annotation.Undetected, zebra.PredictedName)

	// sorted by cropped file name, the sentinel's empty name first
	assert.True(t, list[0].IsUndetected())
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].CroppedFileName, list[i].CroppedFileName)
	}

	// artifacts exist for every detection
	for _, a := range list[1:] {
		_, err := f.blobs.Download(t.Context(), a.CroppedFileName)
		require.NoError(t, err)
		_, err = f.blobs.Download(t.Context(), a.AnnotatedFileName)
		require.NoError(t, err)
	}

	stored, err := f.annotations.List(t.Context(), "demo")
	require.NoError(t, err)
	assert.Equal(t, list, stored)
	assert.Equal(t, 1, f.recorder.GetOperationCount("predict", metrics.StatusSuccess))
}

func TestPredictIDsAreStableAcrossRuns(t *testing.T) {
	t.Parallel()

	boxes := map[string][]detector.Candidate{
		"IMG_0005.jpg": {{Box: box(t, 0, 0, 60, 60), Confidence: 0.9, Label: "Crocuta_crocuta"}},
	}
	f := newFixture(t, localBlobs(t), boxes, "IMG_0005.jpg", "IMG_0006.jpg")

	first, err := f.pipeline.Predict(t.Context(), "demo")
	require.NoError(t, err)
	second, err := f.pipeline.Predict(t.Context(), "demo")
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	stored, err := f.annotations.List(t.Context(), "demo")
	require.NoError(t, err)
	assert.Len(t, stored, 2, "a new run replaces the previous annotations")
}

func TestPredictAbortsOnUndecodableImage(t *testing.T) {
	t.Parallel()

	blobs := localBlobs(t)
	f := newFixture(t, blobs, nil, "IMG_0007.jpg")
	require.NoError(t, blobs.Put(t.Context(), "inputs/demo/IMG_0008.jpg", strings.NewReader("not a jpeg")))

	_, err := f.pipeline.Predict(t.Context(), "demo")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 1, f.recorder.GetOperationCount("predict", metrics.StatusError))

	stored, err := f.annotations.List(t.Context(), "demo")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// brokenOutputs rejects writes below outputs/
type brokenOutputs struct {
	blobstore.Store
}

func (b brokenOutputs) Put(ctx context.Context, key string, r io.Reader) error {
	if strings.HasPrefix(key, "outputs/") {
		return errors.NewStd("quota exceeded")
	}
	return b.Store.Put(ctx, key, r)
}

func TestPredictAbortsOnExportFailure(t *testing.T) {
	t.Parallel()

	boxes := map[string][]detector.Candidate{
		"IMG_0009.jpg": {{Box: box(t, 0, 0, 60, 60), Confidence: 0.9, Label: "Crocuta_crocuta"}},
	}
	f := newFixture(t, brokenOutputs{Store: localBlobs(t)}, boxes, "IMG_0009.jpg")

	_, err := f.pipeline.Predict(t.Context(), "demo")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))
}

func TestPredictUnknownCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, localBlobs(t), nil)
	_, err := f.pipeline.Predict(t.Context(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
