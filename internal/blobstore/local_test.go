package blobstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

func TestLocalPutDownloadList(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := t.Context()

	for _, key := range []string{
		"website-data/inputs/demo/b.jpg",
		"website-data/inputs/demo/a.jpg",
		"website-data/inputs/other/c.jpg",
		"website-data/outputs/demo/cropped/x.jpg",
	} {
		require.NoError(t, store.Put(ctx, key, strings.NewReader(key)))
	}

	keys, err := store.List(ctx, "website-data/inputs/demo/")
	require.NoError(t, err)
	assert.Equal(t, []string{"website-data/inputs/demo/a.jpg", "website-data/inputs/demo/b.jpg"}, keys)

	keys, err = store.List(ctx, "website-data/inputs/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = store.List(ctx, "missing/prefix/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	data, err := store.Download(ctx, "website-data/inputs/demo/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "website-data/inputs/demo/a.jpg", string(data))
}

func TestLocalUploadAndDelete(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)
	ctx := t.Context()

	src := filepath.Join(t.TempDir(), "src.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o600))
	require.NoError(t, store.Upload(ctx, src, "a/b/c.jpg"))

	require.NoError(t, store.Delete(ctx, "a/b/c.jpg"))
	_, err = store.Download(ctx, "a/b/c.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// empty parents are pruned, deleting again is fine
	_, statErr := os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(statErr))
	assert.NoError(t, store.Delete(ctx, "a/b/c.jpg"))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/", "../outside.jpg", "a/../../b"} {
		err := store.Put(t.Context(), key, strings.NewReader("x"))
		require.Error(t, err, key)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), key)
	}
}

func TestCleanKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"a/b.jpg", "a/b.jpg"},
		{"/a//b.jpg", "a/b.jpg"},
		{`a\b.jpg`, "a/b.jpg"},
		{"a/./b.jpg", "a/b.jpg"},
		{"a..b.jpg", "a..b.jpg"},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestWriteFileAtomicKeepsOldContentOnFailure(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "models", "Crocuta_crocuta_knn.json")
	require.NoError(t, WriteFileAtomic(target, PermFile, func(w io.Writer) error {
		_, err := w.Write([]byte("v1"))
		return err
	}))

	err := WriteFileAtomic(target, PermFile, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

type fakeRecorder struct {
	mu         sync.Mutex
	operations []string
	errors     []string
}

func (r *fakeRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = append(r.operations, operation+":"+status)
}

func (r *fakeRecorder) RecordDuration(string, float64) {}

func (r *fakeRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, operation+":"+errorType)
}

func TestWithMetrics(t *testing.T) {
	t.Parallel()

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	rec := &fakeRecorder{}
	store := WithMetrics(local, rec)

	require.NoError(t, store.Put(t.Context(), "k.jpg", bytes.NewReader([]byte("x"))))
	_, err = store.Download(t.Context(), "missing.jpg")
	require.Error(t, err)

	assert.Equal(t, []string{"blob_put:success", "blob_download:error"}, rec.operations)
	assert.Equal(t, []string{"blob_download:not-found"}, rec.errors)
	assert.Same(t, local, WithMetrics(local, nil))
}
