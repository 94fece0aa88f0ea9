// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// Storage backends and database drivers
const (
	BackendLocal = "local"
	BackendSFTP  = "sftp"
	BackendFTP   = "ftp"

	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDetectorSettings(&s.Detector) },
		func(s *Settings) error { return validateEmbeddingSettings(&s.Embedding) },
		func(s *Settings) error { return validateClassifierSettings(&s.Classifier) },
		func(s *Settings) error { return validateStorageSettings(&s.Storage) },
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateRetrainSettings(&s.Retrain) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if settings.Telemetry.Sentry.Enabled && settings.Telemetry.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectorSettings(s *DetectorSettings) error {
	var errs []string
	if s.ModelPath == "" {
		errs = append(errs, "detector.modelpath is required")
	}
	if s.InputSize <= 0 || s.InputSize%32 != 0 {
		errs = append(errs, fmt.Sprintf("detector.inputsize must be a positive multiple of 32, got %d", s.InputSize))
	}
	if !inUnitInterval(s.ScoreThreshold) {
		errs = append(errs, "detector.scorethreshold must be within [0, 1]")
	}
	if !inUnitInterval(s.IoUThreshold) {
		errs = append(errs, "detector.iouthreshold must be within [0, 1]")
	}
	if !inUnitInterval(s.MinScore) {
		errs = append(errs, "detector.minscore must be within [0, 1]")
	}
	if !inUnitInterval(s.Counter.Threshold) {
		errs = append(errs, "detector.counter.threshold must be within [0, 1]")
	}
	if s.Threads < 0 {
		errs = append(errs, "detector.threads must not be negative")
	}
	return joinSection(errs)
}

func validateEmbeddingSettings(s *EmbeddingSettings) error {
	var errs []string
	if s.ModelPath == "" {
		errs = append(errs, "embedding.modelpath is required")
	}
	if s.InputSize <= 0 {
		errs = append(errs, "embedding.inputsize must be positive")
	}
	if s.SampleBatch <= 0 {
		errs = append(errs, "embedding.samplebatch must be positive")
	}
	if s.Threads < 0 {
		errs = append(errs, "embedding.threads must not be negative")
	}
	return joinSection(errs)
}

func validateClassifierSettings(s *ClassifierSettings) error {
	var errs []string
	if s.ModelsDir == "" {
		errs = append(errs, "classifier.modelsdir is required")
	}
	if s.Folds < 2 {
		errs = append(errs, "classifier.folds must be at least 2")
	}
	for name, prefix := range s.TrainingPrefixes {
		if prefix == "" {
			errs = append(errs, fmt.Sprintf("classifier.trainingprefixes.%s must not be empty", name))
		}
	}
	return joinSection(errs)
}

func validateStorageSettings(s *StorageSettings) error {
	var errs []string
	switch s.Backend {
	case BackendLocal:
		if s.Local.Path == "" {
			errs = append(errs, "storage.local.path is required for the local backend")
		}
	case BackendSFTP:
		if s.SFTP.Host == "" {
			errs = append(errs, "storage.sftp.host is required for the sftp backend")
		}
		if s.SFTP.Password == "" && s.SFTP.KeyFile == "" {
			errs = append(errs, "storage.sftp requires a password or keyfile")
		}
	case BackendFTP:
		if s.FTP.Host == "" {
			errs = append(errs, "storage.ftp.host is required for the ftp backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported", s.Backend))
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		errs = append(errs, "storage.jpegquality must be within [1, 100]")
	}
	if s.InputsPrefix == "" || s.OutputsPrefix == "" {
		errs = append(errs, "storage.inputsprefix and storage.outputsprefix are required")
	}
	return joinSection(errs)
}

func validateDatabaseSettings(s *DatabaseSettings) error {
	switch s.Driver {
	case DriverSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DriverMySQL:
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			return fmt.Errorf("database.mysql host and database are required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", s.Driver)
	}
	return nil
}

func validateRetrainSettings(s *RetrainSettings) error {
	var errs []string
	if s.Workers < 1 {
		errs = append(errs, "retrain.workers must be at least 1")
	}
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, "retrain.heartbeatinterval must be positive")
	}
	if s.StaleTimeout <= s.HeartbeatInterval {
		errs = append(errs, "retrain.staletimeout must exceed retrain.heartbeatinterval")
	}
	if s.LockDir == "" {
		errs = append(errs, "retrain.lockdir is required")
	}
	return joinSection(errs)
}

func validateWebServerSettings(s *WebServerSettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("webserver.listen %q is invalid: %w", s.Listen, err)
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

func joinSection(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
