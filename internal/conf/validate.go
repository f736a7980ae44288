package conf

import (
	"fmt"
	"strings"

	"github.com/tphakala/beatguard/internal/errors"
)

// ValidationError collects every settings problem found by ValidateSettings
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory marks validation failures as configuration errors.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct. Any failure is a
// configuration error matching ErrConfiguration.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateACRCloudSettings(&settings.ACRCloud)...)
	ve.Errors = append(ve.Errors, validateIngestSettings(&settings.Ingest)...)
	ve.Errors = append(ve.Errors, validatePollerSettings(&settings.Poller)...)
	ve.Errors = append(ve.Errors, validateDatabaseSettings(&settings.Database)...)

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt.broker is required when mqtt is enabled")
	}
	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn is required when telemetry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Priority(errors.PriorityCritical).
			Build()
	}
	return nil
}

// validateACRCloudSettings checks the required provider credentials
func validateACRCloudSettings(s *ACRCloudSettings) []string {
	var errs []string
	required := []struct {
		key   string
		value string
	}{
		{"acrcloud.host", s.Host},
		{"acrcloud.access_key", s.AccessKey},
		{"acrcloud.access_secret", s.AccessSecret},
		{"acrcloud.bucket_id", s.BucketID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Sprintf("%s is required", r.key))
		}
	}
	if s.Timeout <= 0 {
		errs = append(errs, "acrcloud.timeout must be positive")
	}
	if s.RateLimit < 0 {
		errs = append(errs, "acrcloud.rate_limit must not be negative")
	}
	if s.Retry.MaxRetries < 0 {
		errs = append(errs, "acrcloud.retry.max_retries must not be negative")
	}
	if s.Retry.Multiplier < 1 {
		errs = append(errs, "acrcloud.retry.multiplier must be at least 1")
	}
	return errs
}

func validateIngestSettings(s *IngestSettings) []string {
	var errs []string
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 100 {
		errs = append(errs, "ingest.confidence_threshold must be between 0 and 100")
	}
	for platform, threshold := range s.PlatformThresholds {
		if threshold < 0 || threshold > 100 {
			errs = append(errs, fmt.Sprintf("ingest.platform_thresholds.%s must be between 0 and 100", platform))
		}
	}
	return errs
}

func validatePollerSettings(s *PollerSettings) []string {
	var errs []string
	if s.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if s.LookbackDays < 1 {
		errs = append(errs, "poller.lookback_days must be at least 1")
	}
	if s.MaxConcurrent < 1 {
		errs = append(errs, "poller.max_concurrent must be at least 1")
	}
	if s.ResyncInterval < 0 {
		errs = append(errs, "poller.resync_interval must not be negative")
	}
	return errs
}

func validateDatabaseSettings(s *DatabaseSettings) []string {
	switch s.Type {
	case "sqlite":
		if s.SQLite.Path == "" {
			return []string{"database.sqlite.path is required"}
		}
	case "mysql":
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			return []string{"database.mysql.host and database.mysql.database are required"}
		}
	default:
		return []string{fmt.Sprintf("database.type %q is not supported", s.Type)}
	}
	return nil
}
