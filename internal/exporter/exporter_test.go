package exporter

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

	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/detector"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

func testInput(t *testing.T) *imageio.InputImage {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := range 100 {
		for x := range 200 {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	img, err := imageio.FromImage("website-data/inputs/demo/IMG_0007.jpg", src, 64)
	require.NoError(t, err)
	return img
}

func testCandidate(t *testing.T) detector.Candidate {
	t.Helper()
	box, err := detector.NewBoundingBox(20, 10, 120, 70, 200, 100)
	require.NoError(t, err)
	return detector.Candidate{Box: &box, Confidence: 0.93, Label: "Crocuta_crocuta"}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	e := New(nil, "website-data/outputs/", 0, nil)
	arts := e.Keys("demo", 2, "website-data/inputs/demo/IMG_0007.jpg", "Crocuta_crocuta")
	assert.Equal(t, "website-data/outputs/demo/cropped/Crocuta_crocuta/2_IMG_0007.jpg", arts.Cropped)
	assert.Equal(t, "website-data/outputs/demo/annotated/Crocuta_crocuta/2_IMG_0007.jpg", arts.Annotated)
}

func TestExportStoresBothArtifacts(t *testing.T) {
	t.Parallel()

	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	rec := metrics.NewTestRecorder()
	e := New(blobs, "outputs", 85, rec)

	arts, err := e.Export(t.Context(), "demo", 0, testInput(t), testCandidate(t))
	require.NoError(t, err)

	data, err := blobs.Download(t.Context(), arts.Cropped)
	require.NoError(t, err)
	crop, err := imageio.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, crop.Bounds().Dx())
	assert.Equal(t, 60, crop.Bounds().Dy())

	data, err = blobs.Download(t.Context(), arts.Annotated)
	require.NoError(t, err)
	full, err := imageio.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), full.Bounds())

	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpExport, metrics.StatusSuccess))
}

func TestExportRejectsSentinel(t *testing.T) {
	t.Parallel()

	e := New(nil, "outputs", 0, nil)
	_, err := e.Export(t.Context(), "demo", 0, testInput(t), detector.NewUndetected("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

// failingStore fails every Put whose key contains failOn
type failingStore struct {
	blobstore.Store
	failOn string
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader) error {
	if strings.Contains(key, f.failOn) {
		return errors.NewStd("disk full")
	}
	return f.Store.Put(ctx, key, r)
}

func TestExportRemovesCropWhenAnnotatedUploadFails(t *testing.T) {
	t.Parallel()

	local, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	e := New(&failingStore{Store: local, failOn: "/annotated/"}, "outputs", 0, nil)

	_, err = e.Export(t.Context(), "demo", 1, testInput(t), testCandidate(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))

	keys, err := local.List(t.Context(), "outputs/")
	require.NoError(t, err)
	assert.Empty(t, keys, "no orphaned crop may remain")
}
