package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/errors"
)

const validConfig = `
acrcloud:
  host: api-eu-west-1.acrcloud.com
  access_key: test-key
  access_secret: test-secret
  bucket_id: "20001"
ingest:
  platform_thresholds:
    spotify: 75
poller:
  interval: 1h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadValidConfig(t *testing.T) {
	dir := writeConfig(t, validConfig)

	settings, err := load(viper.New(), []string{dir})
	require.NoError(t, err)

	assert.Equal(t, "api-eu-west-1.acrcloud.com", settings.ACRCloud.Host)
	assert.Equal(t, "20001", settings.ACRCloud.BucketID)
	assert.Equal(t, DefaultConfidenceThreshold, settings.Ingest.ConfidenceThreshold)
	assert.Equal(t, 75, settings.Ingest.PlatformThresholds["spotify"])
	assert.Equal(t, time.Hour, settings.Poller.Interval)
	assert.Equal(t, 7, settings.Poller.LookbackDays)
	assert.Equal(t, time.Minute, settings.Poller.ResyncInterval)
	assert.Equal(t, 3, settings.ACRCloud.Retry.MaxRetries)
	assert.Equal(t, "sqlite", settings.Database.Type)
}

func TestLoadMissingCredentialsIsConfigurationError(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing string
	}{
		{"no file at all", "", "acrcloud.host"},
		{"missing secret", "acrcloud:\n  host: h\n  access_key: k\n  bucket_id: b\n", "acrcloud.access_secret"},
		{"missing bucket", "acrcloud:\n  host: h\n  access_key: k\n  access_secret: s\n", "acrcloud.bucket_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.content)

			_, err := load(viper.New(), []string{dir})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.missing)

			var ve ValidationError
			require.True(t, errors.As(err, &ve))
			assert.NotEmpty(t, ve.Errors)
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := writeConfig(t, validConfig)
	t.Setenv("BEATGUARD_ACRCLOUD_BUCKET_ID", "30002")
	t.Setenv("BEATGUARD_CONFIDENCE_THRESHOLD", "80")

	settings, err := load(viper.New(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, "30002", settings.ACRCloud.BucketID)
	assert.Equal(t, 80, settings.Ingest.ConfidenceThreshold)
}

func TestSecretsResolvedFromFileAndEnvironment(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "access_secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("file-secret\n"), 0o600))
	t.Setenv("BG_CONF_TEST_KEY", "env-key")

	dir := writeConfig(t, `
acrcloud:
  host: h
  access_key: ${BG_CONF_TEST_KEY}
  access_secret_file: `+secretFile+`
  bucket_id: b
`)

	settings, err := load(viper.New(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, "env-key", settings.ACRCloud.AccessKey)
	assert.Equal(t, "file-secret", settings.ACRCloud.AccessSecret)
}

func TestMissingSecretFileIsConfigurationError(t *testing.T) {
	dir := writeConfig(t, `
acrcloud:
  host: h
  access_key: k
  access_secret: inline
  access_secret_file: /nonexistent/beatguard/secret
  bucket_id: b
`)

	_, err := load(viper.New(), []string{dir})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "acrcloud.access_secret")
}

func TestInvalidEnvironmentValue(t *testing.T) {
	dir := writeConfig(t, validConfig)
	t.Setenv("BEATGUARD_CONFIDENCE_THRESHOLD", "150")

	_, err := load(viper.New(), []string{dir})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidateSettingsRanges(t *testing.T) {
	dir := writeConfig(t, validConfig)
	settings, err := load(viper.New(), []string{dir})
	require.NoError(t, err)

	settings.Ingest.ConfidenceThreshold = 101
	settings.Ingest.PlatformThresholds["youtube"] = -1
	settings.Database.Type = "postgres"

	err = ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest.confidence_threshold")
	assert.Contains(t, err.Error(), "platform_thresholds.youtube")
	assert.Contains(t, err.Error(), "postgres")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beatguard", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "confidence_threshold: 60")

	require.Error(t, WriteDefaultConfig(path), "existing config must not be overwritten")
}
