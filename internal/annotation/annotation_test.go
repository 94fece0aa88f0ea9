package annotation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.Open(&conf.DatabaseSettings{Driver: conf.DriverSQLite, SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv)
}

func TestNewIDIsDeterministic(t *testing.T) {
	t.Parallel()

	a := NewID("demo", "inputs/demo/a.jpg", "outputs/demo/cropped/hyena/0_a.jpg")
	b := NewID("demo", "inputs/demo/a.jpg", "outputs/demo/cropped/hyena/0_a.jpg")
	c := NewID("demo", "inputs/demo/a.jpg", "outputs/demo/cropped/hyena/1_a.jpg")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestSortIsIndependentOfInputOrder(t *testing.T) {
	t.Parallel()

	base := []Annotation{
		{ID: "3", CroppedFileName: "", FileName: "z.jpg"},
		{ID: "1", CroppedFileName: "c/0_a.jpg", FileName: "a.jpg"},
		{ID: "2", CroppedFileName: "c/0_b.jpg", FileName: "b.jpg"},
		{ID: "4", CroppedFileName: "", FileName: "y.jpg"},
	}
	want := []string{"4", "3", "1", "2"}

	for range 10 {
		shuffled := append([]Annotation(nil), base...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		Sort(shuffled)
		ids := make([]string, len(shuffled))
		for i := range shuffled {
			ids[i] = shuffled[i].ID
		}
		assert.Equal(t, want, ids)
	}
}

func TestFilterEligible(t *testing.T) {
	t.Parallel()

	list := []Annotation{
		{ID: "a", Accepted: true},
		{ID: "b", Accepted: true, Ignored: true},
		{ID: "c"},
		{ID: "d", Accepted: true},
	}
	got := FilterEligible(list)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestStoreSaveListMerge(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := t.Context()

	first := []Annotation{
		{ID: "b", CroppedFileName: "c/1.jpg", PredictedName: "x", PredictedSpecies: "Crocuta_crocuta"},
		{ID: "a", CroppedFileName: "c/0.jpg", PredictedName: "y", PredictedSpecies: "Crocuta_crocuta"},
	}
	require.NoError(t, s.Save(ctx, "demo", first))

	// a second save replaces the previous run
	require.NoError(t, s.Save(ctx, "demo", first[:1]))
	list, err := s.List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, s.Save(ctx, "demo", first))

	name := "z"
	merged, err := s.Merge(ctx, "demo", []Review{{ID: "b", Accepted: true, PredictedName: &name}})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "z", merged[0].PredictedName)
	assert.Equal(t, "c/1.jpg", merged[0].CroppedFileName, "file names survive review")

	got, err := s.Get(ctx, "demo", "b")
	require.NoError(t, err)
	assert.True(t, got.Accepted)

	_, err = s.Merge(ctx, "demo", []Review{{ID: "a", Accepted: true}, {ID: "nope"}})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	got, err = s.Get(ctx, "demo", "a")
	require.NoError(t, err)
	assert.False(t, got.Accepted, "a failed merge writes nothing")

	require.NoError(t, s.Delete(ctx, "demo"))
	list, err = s.List(ctx, "demo")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveRejectsMissingID(t *testing.T) {
	t.Parallel()

	err := newStore(t).Save(t.Context(), "demo", []Annotation{{FileName: "a.jpg"}})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
