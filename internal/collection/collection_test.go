package collection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
)

func newService(t *testing.T) (*Service, *kvstore.GormStore) {
	t.Helper()
	kv, err := kvstore.Open(&conf.DatabaseSettings{Driver: conf.DriverSQLite, SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewService(kv, blobs, annotation.NewStore(kv), "website-data/inputs"), kv
}

func TestSlug(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Serengeti 2024":      "serengeti-2024",
		"mara_north":          "mara-north",
		"Ngorongoro Crater!!": "ngorongoro-crater",
		"Élan Réserve":        "elan-reserve",
		"ﬁeld trip":           "field-trip",
		"???":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestCreateListGetDelete(t *testing.T) {
	t.Parallel()

	svc, kv := newService(t)
	ctx := t.Context()

	c, err := svc.Create(ctx, "Serengeti 2024")
	require.NoError(t, err)
	assert.Equal(t, "serengeti-2024", c.ID)

	_, err = svc.Create(ctx, "serengeti_2024")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = svc.Create(ctx, "  !! ")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	// legacy session records show up as collections
	require.NoError(t, kvstore.SetJSON(ctx, kv, LegacyTable, "Demo", Collection{ID: "Demo", Name: "Demo"}))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Demo", list[0].ID)
	assert.Equal(t, "serengeti-2024", list[1].ID)

	got, err := svc.Get(ctx, "Demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)

	require.NoError(t, kvstore.SetJSON(ctx, kv, annotation.Table(c.ID), "a", annotation.Annotation{ID: "a"}))
	require.NoError(t, svc.Delete(ctx, c.ID))
	ok, err := svc.Exists(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	records, err := kv.Values(ctx, annotation.Table(c.ID))
	require.NoError(t, err)
	assert.Empty(t, records)

	err = svc.Delete(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestImages(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := t.Context()
	_, err := svc.Create(ctx, "demo")
	require.NoError(t, err)

	key, err := svc.AddImage(ctx, "demo", "uploads/IMG_0002.JPG", strings.NewReader("b"))
	require.NoError(t, err)
	assert.Equal(t, "website-data/inputs/demo/IMG_0002.JPG", key)
	_, err = svc.AddImage(ctx, "demo", "IMG_0001.jpg", strings.NewReader("a"))
	require.NoError(t, err)

	_, err = svc.AddImage(ctx, "demo", "notes.txt", strings.NewReader("x"))
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	_, err = svc.AddImage(ctx, "missing", "a.jpg", strings.NewReader("x"))
	assert.True(t, errors.IsNotFound(err))

	images, err := svc.Images(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"website-data/inputs/demo/IMG_0001.jpg",
		"website-data/inputs/demo/IMG_0002.JPG",
	}, images)

	require.NoError(t, svc.RemoveImage(ctx, "demo", "/website-data/inputs/demo/IMG_0001.jpg"))
	images, err = svc.Images(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, images, 1)
}
