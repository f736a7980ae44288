package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding maps a config key to an environment variable
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		// Provider credentials are usually injected from the environment
		{"acrcloud.host", "BEATGUARD_ACRCLOUD_HOST", nil},
		{"acrcloud.access_key", "BEATGUARD_ACRCLOUD_ACCESS_KEY", nil},
		{"acrcloud.access_secret", "BEATGUARD_ACRCLOUD_ACCESS_SECRET", nil},
		{"acrcloud.access_secret_file", "BEATGUARD_ACRCLOUD_ACCESS_SECRET_FILE", nil},
		{"acrcloud.bucket_id", "BEATGUARD_ACRCLOUD_BUCKET_ID", nil},
		{"acrcloud.timeout", "BEATGUARD_ACRCLOUD_TIMEOUT", validateEnvDuration},

		{"ingest.confidence_threshold", "BEATGUARD_CONFIDENCE_THRESHOLD", validateEnvThreshold},
		{"poller.interval", "BEATGUARD_POLL_INTERVAL", validateEnvDuration},

		{"database.type", "BEATGUARD_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "BEATGUARD_SQLITE_PATH", nil},
		{"database.mysql.host", "BEATGUARD_MYSQL_HOST", nil},
		{"database.mysql.username", "BEATGUARD_MYSQL_USERNAME", nil},
		{"database.mysql.password", "BEATGUARD_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "BEATGUARD_MYSQL_DATABASE", nil},

		{"telemetry.dsn", "BEATGUARD_SENTRY_DSN", nil},
		{"debug", "BEATGUARD_DEBUG", validateEnvBool},
	}
}

// bindEnvVars binds environment variables and validates any that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	return err
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if n < 0 || n > 100 {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch value {
	case "sqlite", "mysql":
		return nil
	default:
		return fmt.Errorf("must be sqlite or mysql")
	}
}
