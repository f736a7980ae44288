// Package conf loads and validates beatguard settings from YAML, environment
// variables and command-line flags via viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/secrets"
)

// ErrConfiguration matches every startup configuration error via errors.Is.
var ErrConfiguration = errors.Sentinel(errors.CategoryConfiguration, "configuration error")

// ACRCloudSettings holds fingerprint provider credentials and transport tuning.
type ACRCloudSettings struct {
	Host         string        `mapstructure:"host" yaml:"host"`                   // provider API host, e.g. api-eu-west-1.acrcloud.com
	AccessKey    string        `mapstructure:"access_key" yaml:"access_key"`       // account access key
	AccessSecret string        `mapstructure:"access_secret" yaml:"access_secret"` // shared signing secret
	// Secret files take precedence over the inline values above.
	AccessKeyFile    string `mapstructure:"access_key_file" yaml:"access_key_file"`
	AccessSecretFile string `mapstructure:"access_secret_file" yaml:"access_secret_file"`
	BucketID     string        `mapstructure:"bucket_id" yaml:"bucket_id"`         // default bucket for new registrations
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`             // per-attempt request timeout
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst    int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	Retry        RetrySettings `mapstructure:"retry" yaml:"retry"`
}

// RetrySettings configures exponential backoff for transient provider failures.
type RetrySettings struct {
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// IngestSettings controls which detections are accepted.
type IngestSettings struct {
	ConfidenceThreshold int            `mapstructure:"confidence_threshold" yaml:"confidence_threshold"` // 0-100
	PlatformThresholds  map[string]int `mapstructure:"platform_thresholds" yaml:"platform_thresholds"`   // per-platform overrides
}

// PollerSettings controls the per-fingerprint retrieval schedule.
type PollerSettings struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	LookbackDays  int           `mapstructure:"lookback_days" yaml:"lookback_days"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"` // bounds retrieval and, separately, ingest

	// ResyncInterval is how often serve re-reads the monitoring flags to pick
	// up changes made by other processes. 0 disables the resync.
	ResyncInterval time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`
}

// AggregationSettings controls summary reconciliation.
type AggregationSettings struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"` // 0 disables periodic runs
}

// SQLiteSettings for the embedded database.
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings for a server database.
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`

	PasswordFile string `mapstructure:"password_file" yaml:"password_file"`
}

// DatabaseSettings selects and configures the detection store.
type DatabaseSettings struct {
	Type          string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SlowThreshold time.Duration  `mapstructure:"slow_threshold" yaml:"slow_threshold"`
	SQLite        SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL         MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
}

// WebServerSettings for the read-only dashboard API.
type WebServerSettings struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen   string        `mapstructure:"listen" yaml:"listen"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"` // dashboard summary cache, 0 disables
}

// MQTTSettings for publishing newly ingested detections.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      byte   `mapstructure:"qos" yaml:"qos"`

	PasswordFile string `mapstructure:"password_file" yaml:"password_file"`
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TelemetrySettings toggles Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// Settings is the root configuration.
type Settings struct {
	Debug       bool                 `mapstructure:"debug" yaml:"debug"`
	ACRCloud    ACRCloudSettings     `mapstructure:"acrcloud" yaml:"acrcloud"`
	Ingest      IngestSettings       `mapstructure:"ingest" yaml:"ingest"`
	Poller      PollerSettings       `mapstructure:"poller" yaml:"poller"`
	Aggregation AggregationSettings  `mapstructure:"aggregation" yaml:"aggregation"`
	Database    DatabaseSettings     `mapstructure:"database" yaml:"database"`
	WebServer   WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	MQTT        MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Metrics     MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Telemetry   TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Logging     logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

var (
	settingsMutex    sync.RWMutex
	settingsInstance *Settings
)

// Load reads settings with the global viper instance, validates them and
// stores the result for GetSettings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := load(viper.GetViper(), defaultConfigPaths())
	if err != nil {
		return nil, err
	}
	settingsInstance = settings
	return settings, nil
}

// load reads config from the first file found in paths, applies defaults and
// environment overrides, and validates the result.
func load(v *viper.Viper, paths []string) (*Settings, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaultConfig(v)
	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Build()
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveSecrets replaces credentials with the contents of their secret files
// and expands ${VAR} references in inline values.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		key   string
		file  string
		value *string
	}{
		{"acrcloud.access_key", s.ACRCloud.AccessKeyFile, &s.ACRCloud.AccessKey},
		{"acrcloud.access_secret", s.ACRCloud.AccessSecretFile, &s.ACRCloud.AccessSecret},
		{"database.mysql.password", s.Database.MySQL.PasswordFile, &s.Database.MySQL.Password},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.key, f.file, *f.value)
		if err != nil {
			return err
		}
		*f.value = resolved
	}
	return nil
}

// GetSettings returns the settings stored by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// defaultConfigPaths lists the directories searched for config.yaml.
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "beatguard"))
	}
	return append(paths, "/etc/beatguard")
}

// WriteDefaultConfig writes a config.yaml populated with defaults to path.
// Existing files are left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path).
			Component("conf").
			Category(errors.CategoryConflict).
			Build()
	}

	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return fmt.Errorf("error building default settings: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	return nil
}
