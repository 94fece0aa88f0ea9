package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadFromYAML resets viper and loads settings from a temporary config file
func loadFromYAML(t *testing.T, content string) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		SetConfigFile("")
	})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	SetConfigFile(path)
	return Load()
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	settings, err := loadFromYAML(t, string(data))
	require.NoError(t, err)

	assert.Equal(t, 640, settings.Detector.InputSize)
	assert.InDelta(t, 0.75, settings.Detector.Counter.Threshold, 1e-9)
	assert.Equal(t, 224, settings.Embedding.InputSize)
	assert.Equal(t, 5, settings.Classifier.Folds)
	assert.Equal(t, uint64(1), settings.Classifier.Seed)
	assert.Equal(t, "hyena.coco/processed/train/", settings.Classifier.TrainingPrefixes["hyena"])
	assert.Equal(t, BackendLocal, settings.Storage.Backend)
	assert.Equal(t, DriverSQLite, settings.Database.Driver)
	assert.Equal(t, 10*time.Second, settings.Retrain.HeartbeatInterval)
	assert.Equal(t, "info", settings.Main.Log.DefaultLevel)
	assert.Same(t, settings, GetSettings())
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	settings, err := loadFromYAML(t, "detector:\n  inputsize: 320\n")
	require.NoError(t, err)

	assert.Equal(t, 320, settings.Detector.InputSize)
	assert.Equal(t, "models/resnet18_simclr.tflite", settings.Embedding.ModelPath)
	assert.Equal(t, 30*time.Minute, settings.Classifier.CacheTTL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("REID_STORAGE_LOCAL_PATH", "/srv/blobs")
	t.Setenv("REID_RETRAIN_WORKERS", "3")

	settings, err := loadFromYAML(t, "storage:\n  local:\n    path: data/blobs\n")
	require.NoError(t, err)

	assert.Equal(t, "/srv/blobs", settings.Storage.Local.Path)
	assert.Equal(t, 3, settings.Retrain.Workers)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	_, err := loadFromYAML(t, "storage:\n  backend: s3\ndetector:\n  inputsize: 100\n")
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Detector:   DetectorSettings{ModelPath: "m", InputSize: 640, ScoreThreshold: 0.25, IoUThreshold: 0.45, Counter: CounterSettings{Threshold: 0.75}},
			Embedding:  EmbeddingSettings{ModelPath: "b", InputSize: 224, SampleBatch: 128},
			Classifier: ClassifierSettings{ModelsDir: "models", Folds: 5},
			Storage:    StorageSettings{Backend: BackendLocal, Local: LocalStorageSettings{Path: "x"}, JPEGQuality: 90, InputsPrefix: "in", OutputsPrefix: "out"},
			Database:   DatabaseSettings{Driver: DriverSQLite, SQLite: SQLiteSettings{Path: "db"}},
			Retrain:    RetrainSettings{Workers: 1, HeartbeatInterval: time.Second, StaleTimeout: time.Minute, LockDir: "locks"},
			WebServer:  WebServerSettings{Enabled: true, Listen: ":8080"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(*Settings) {}, false},
		{"counter threshold above one", func(s *Settings) { s.Detector.Counter.Threshold = 1.5 }, true},
		{"sftp without credentials", func(s *Settings) {
			s.Storage.Backend = BackendSFTP
			s.Storage.SFTP.Host = "nas"
		}, true},
		{"stale timeout below heartbeat", func(s *Settings) { s.Retrain.StaleTimeout = time.Millisecond }, true},
		{"bad listen address", func(s *Settings) { s.WebServer.Listen = "8080" }, true},
		{"disabled webserver ignores listen", func(s *Settings) {
			s.WebServer.Enabled = false
			s.WebServer.Listen = ""
		}, false},
		{"sentry without dsn", func(s *Settings) { s.Telemetry.Sentry.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBackend("sftp"))
	assert.Error(t, validateEnvBackend("s3"))
	assert.NoError(t, validateEnvDriver("mysql"))
	assert.Error(t, validateEnvThreads("-1"))
	assert.Error(t, validateEnvBool("maybe"))
}
