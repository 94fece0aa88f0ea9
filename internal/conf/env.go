// env.go - Environment variable configuration and validation for wildlife-reid
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "REID_DEBUG", validateEnvBool},

		{"detector.modelpath", "REID_DETECTOR_MODELPATH", validateEnvPath},
		{"detector.labelpath", "REID_DETECTOR_LABELPATH", validateEnvPath},
		{"detector.threads", "REID_DETECTOR_THREADS", validateEnvThreads},
		{"detector.usexnnpack", "REID_DETECTOR_USEXNNPACK", validateEnvBool},
		{"embedding.modelpath", "REID_EMBEDDING_MODELPATH", validateEnvPath},
		{"embedding.threads", "REID_EMBEDDING_THREADS", validateEnvThreads},
		{"classifier.modelsdir", "REID_CLASSIFIER_MODELSDIR", validateEnvPath},

		{"storage.backend", "REID_STORAGE_BACKEND", validateEnvBackend},
		{"storage.local.path", "REID_STORAGE_LOCAL_PATH", validateEnvPath},
		{"storage.sftp.password", "REID_STORAGE_SFTP_PASSWORD", nil},
		{"storage.ftp.password", "REID_STORAGE_FTP_PASSWORD", nil},

		{"database.driver", "REID_DATABASE_DRIVER", validateEnvDriver},
		{"database.sqlite.path", "REID_DATABASE_SQLITE_PATH", validateEnvPath},
		{"database.mysql.password", "REID_DATABASE_MYSQL_PASSWORD", nil},

		{"retrain.workers", "REID_RETRAIN_WORKERS", validateEnvThreads},
		{"webserver.listen", "REID_WEBSERVER_LISTEN", nil},
		{"telemetry.sentry.dsn", "REID_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPath(value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	return nil
}

func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendLocal, BackendSFTP, BackendFTP:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendLocal, BackendSFTP, BackendFTP)
}

func validateEnvDriver(value string) error {
	switch value {
	case DriverSQLite, DriverMySQL:
		return nil
	}
	return fmt.Errorf("must be %s or %s", DriverSQLite, DriverMySQL)
}
