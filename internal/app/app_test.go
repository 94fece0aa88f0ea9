package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/retrain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Detector: conf.DetectorSettings{
			ModelPath: filepath.Join(dir, "missing.tflite"),
			LabelPath: filepath.Join(dir, "missing.txt"),
			InputSize: 640,
			Counter:   conf.CounterSettings{Threshold: 0.75, Label: "elephant"},
		},
		Embedding: conf.EmbeddingSettings{
			ModelPath:      filepath.Join(dir, "missing-backbone.tflite"),
			InputSize:      224,
			BackbonePrefix: "backbone/train/",
			SampleBatch:    128,
		},
		Classifier: conf.ClassifierSettings{
			ModelsDir: filepath.Join(dir, "models"),
			Folds:     5,
			Seed:      1,
			CacheTTL:  time.Minute,
		},
		Storage: conf.StorageSettings{
			Backend:       conf.BackendLocal,
			Local:         conf.LocalStorageSettings{Path: filepath.Join(dir, "blobs")},
			InputsPrefix:  "inputs",
			OutputsPrefix: "outputs",
			JPEGQuality:   90,
		},
		Database: conf.DatabaseSettings{
			Driver: conf.DriverSQLite,
			SQLite: conf.SQLiteSettings{Path: ":memory:"},
		},
		Retrain: conf.RetrainSettings{
			Workers:           1,
			QueueSize:         4,
			JobTimeout:        time.Minute,
			HeartbeatInterval: time.Second,
			StaleTimeout:      time.Minute,
			LockDir:           filepath.Join(dir, "locks"),
		},
	}
}

func TestNewWiresStorageServices(t *testing.T) {
	t.Parallel()

	a, err := New(testSettings(t), buildinfo.NewContext("1.0.0", "", ""))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	ctx := t.Context()
	c, err := a.Collections.Create(ctx, "Serengeti 2024")
	require.NoError(t, err)

	key, err := a.Collections.AddImage(ctx, c.ID, "IMG_0001.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "inputs/"+c.ID+"/IMG_0001.jpg", key)

	orch := a.Orchestrator(nil)
	job, err := orch.Request(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, retrain.StatusCreated, job.Status)

	stored, err := a.Jobs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Generation, stored.Generation)
}

func TestNewRejectsUnknownTrainingPrefix(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	s.Classifier.TrainingPrefixes = map[string]string{"okapi": "okapi/train/"}
	_, err := New(s, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestModelsLoadLazily(t *testing.T) {
	t.Parallel()

	a, err := New(testSettings(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	_, err = a.Detector()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))

	_, err = a.Pipeline()
	require.Error(t, err)
	_, err = a.Worker()
	require.Error(t, err)
	_, err = a.Server(a.Orchestrator(nil))
	require.Error(t, err)
}

func TestNMSOverrides(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	a := &App{Settings: s}
	nms := a.nms()
	assert.InDelta(t, 0.25, nms.ScoreThreshold, 1e-9)
	assert.Equal(t, 300, nms.MaxDetections)

	s.Detector.IoUThreshold = 0.6
	s.Detector.MaxDetections = 50
	nms = a.nms()
	assert.InDelta(t, 0.6, nms.IoUThreshold, 1e-9)
	assert.Equal(t, 50, nms.MaxDetections)
}

func TestQueueUsesRetrainSettings(t *testing.T) {
	t.Parallel()

	a := &App{Settings: testSettings(t)}
	q := a.Queue()
	require.NotNil(t, q)
	assert.Zero(t, q.GetStats().TotalJobs)
}
