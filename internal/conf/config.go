// config.go: settings structure and loading for wildlife-reid
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// DetectorSettings configures the bounding box detector model
type DetectorSettings struct {
	ModelPath      string          `yaml:"modelpath"`      // path to the YOLO tflite model
	LabelPath      string          `yaml:"labelpath"`      // path to the class label list, one per line
	InputSize      int             `yaml:"inputsize"`      // square detector resolution in pixels
	Threads        int             `yaml:"threads"`        // 0 selects automatically
	UseXNNPACK     bool            `yaml:"usexnnpack"`     // use the XNNPACK delegate when available
	ScoreThreshold float64         `yaml:"scorethreshold"` // raw output score floor applied during NMS
	IoUThreshold   float64         `yaml:"iouthreshold"`
	MaxDetections  int             `yaml:"maxdetections"`
	MinScore       float64         `yaml:"minscore"` // optional postprocessor floor, 0 disables
	Counter        CounterSettings `yaml:"counter"`
}

// CounterSettings configures the single species counting mode
type CounterSettings struct {
	Threshold float64 `yaml:"threshold"`
	Label     string  `yaml:"label"`
}

// EmbeddingSettings configures the feature extractor backbone
type EmbeddingSettings struct {
	ModelPath      string `yaml:"modelpath"`
	InputSize      int    `yaml:"inputsize"`
	Threads        int    `yaml:"threads"`
	UseXNNPACK     bool   `yaml:"usexnnpack"`
	BackbonePrefix string `yaml:"backboneprefix"` // blob prefix of the shared backbone training images
	SampleBatch    int    `yaml:"samplebatch"`    // backbone training batch size, sample sets round up to it
}

// ClassifierSettings configures per-species classifier training and loading
type ClassifierSettings struct {
	ModelsDir        string            `yaml:"modelsdir"`
	Folds            int               `yaml:"folds"`
	Seed             uint64            `yaml:"seed"`
	CacheTTL         time.Duration     `yaml:"cachettl"`
	TrainingPrefixes map[string]string `yaml:"trainingprefixes"` // keyed by species short name
}

// LocalStorageSettings configures the filesystem blob backend
type LocalStorageSettings struct {
	Path string `yaml:"path"`
}

// SFTPSettings configures the SFTP blob backend
type SFTPSettings struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeyFile        string        `yaml:"keyfile"`
	KnownHostsFile string        `yaml:"knownhostsfile"`
	BasePath       string        `yaml:"basepath"`
	Timeout        time.Duration `yaml:"timeout"`
}

// FTPSettings configures the FTP blob backend
type FTPSettings struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	BasePath       string        `yaml:"basepath"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConnections int           `yaml:"maxconnections"`
}

// StorageSettings configures the blob store and its key layout
type StorageSettings struct {
	Backend       string               `yaml:"backend"` // local, sftp or ftp
	Local         LocalStorageSettings `yaml:"local"`
	SFTP          SFTPSettings         `yaml:"sftp"`
	FTP           FTPSettings          `yaml:"ftp"`
	InputsPrefix  string               `yaml:"inputsprefix"`
	OutputsPrefix string               `yaml:"outputsprefix"`
	JPEGQuality   int                  `yaml:"jpegquality"`
	MaxRetries    int                  `yaml:"maxretries"`
}

// SQLiteSettings configures the SQLite key-value backend
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings configures the MySQL key-value backend
type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DatabaseSettings configures the key-value store
type DatabaseSettings struct {
	Driver        string         `yaml:"driver"` // sqlite or mysql
	SQLite        SQLiteSettings `yaml:"sqlite"`
	MySQL         MySQLSettings  `yaml:"mysql"`
	SlowThreshold time.Duration  `yaml:"slowthreshold"`
}

// RetrainSettings configures retrain workers
type RetrainSettings struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queuesize"`
	JobTimeout        time.Duration `yaml:"jobtimeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatinterval"`
	StaleTimeout      time.Duration `yaml:"staletimeout"` // heartbeat age after which a started job is reported stale
	LockDir           string        `yaml:"lockdir"`
	PollInterval      time.Duration `yaml:"pollinterval"`
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings configures optional error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// PrometheusSettings configures the metrics endpoint
type PrometheusSettings struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetrySettings groups error and metrics telemetry
type TelemetrySettings struct {
	Sentry     SentrySettings     `yaml:"sentry"`
	Prometheus PrometheusSettings `yaml:"prometheus"`
}

// MainSettings holds process-wide settings
type MainSettings struct {
	Name string               `yaml:"name"`
	Log  logger.LoggingConfig `yaml:"log"`
}

// Settings contains all configuration options
type Settings struct {
	Debug      bool               `yaml:"debug"`
	Main       MainSettings       `yaml:"main"`
	Detector   DetectorSettings   `yaml:"detector"`
	Embedding  EmbeddingSettings  `yaml:"embedding"`
	Classifier ClassifierSettings `yaml:"classifier"`
	Storage    StorageSettings    `yaml:"storage"`
	Database   DatabaseSettings   `yaml:"database"`
	Retrain    RetrainSettings    `yaml:"retrain"`
	WebServer  WebServerSettings  `yaml:"webserver"`
	Telemetry  TelemetrySettings  `yaml:"telemetry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFile       string
)

// SetConfigFile makes Load read the given file instead of searching the default paths.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFile = path
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment variable configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Category(errors.CategoryConfiguration).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
