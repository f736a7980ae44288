package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfidenceThreshold is the acceptance threshold on the 0-100 scale.
const DefaultConfidenceThreshold = 60

// setDefaultConfig registers default values on v
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	// Fingerprint provider
	v.SetDefault("acrcloud.host", "")
	v.SetDefault("acrcloud.access_key", "")
	v.SetDefault("acrcloud.access_secret", "")
	v.SetDefault("acrcloud.access_key_file", "")
	v.SetDefault("acrcloud.access_secret_file", "")
	v.SetDefault("acrcloud.bucket_id", "")
	v.SetDefault("acrcloud.timeout", 30*time.Second)
	v.SetDefault("acrcloud.user_agent", "beatguard")
	v.SetDefault("acrcloud.rate_limit", 5.0)
	v.SetDefault("acrcloud.rate_burst", 5)
	v.SetDefault("acrcloud.retry.max_retries", 3)
	v.SetDefault("acrcloud.retry.initial_delay", time.Second)
	v.SetDefault("acrcloud.retry.max_delay", 30*time.Second)
	v.SetDefault("acrcloud.retry.multiplier", 2.0)

	// Ingestion
	v.SetDefault("ingest.confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("ingest.platform_thresholds", map[string]int{})

	// Polling
	v.SetDefault("poller.interval", 6*time.Hour)
	v.SetDefault("poller.lookback_days", 7)
	v.SetDefault("poller.max_concurrent", 4)
	v.SetDefault("poller.cycle_timeout", 10*time.Minute)
	v.SetDefault("poller.resync_interval", time.Minute)

	v.SetDefault("aggregation.reconcile_interval", 24*time.Hour)

	// Database
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)
	v.SetDefault("database.sqlite.path", "beatguard.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "beatguard")
	v.SetDefault("database.mysql.password_file", "")

	// Dashboard API
	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.cache_ttl", 30*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "beatguard/detections")
	v.SetDefault("mqtt.client_id", "beatguard")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.password_file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	// Logging
	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/beatguard.log")
	v.SetDefault("logging.file_output.level", "info")
}
