// Package secrets resolves credentials from mounted secret files or from
// values that reference environment variables.
//
// Secret values are never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

const (
	// maxSecretFileSize caps secret file reads; credentials are small.
	maxSecretFileSize = 64 * 1024

	componentName = "secrets"
)

// Expand substitutes ${VAR} and ${VAR:-fallback} references in s with
// environment values. A referenced variable that is unset and has no
// fallback is an error.
func Expand(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a Docker or Kubernetes style secret file.
// Trailing newlines are trimmed and an empty file is an error. Files readable
// by group or other are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError(fmt.Errorf("secret file path is empty"), path)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fileError(fmt.Errorf("secret file not found: %s", clean), clean)
		}
		return "", fileError(fmt.Errorf("failed to stat secret file %s: %w", clean, err), clean)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(fmt.Errorf("secret path is not a regular file: %s", clean), clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean), clean)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module(componentName).Warn("secret file is readable by group or other",
			logger.String("path", clean),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(fmt.Errorf("failed to read secret file %s: %w", clean, err), clean)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(fmt.Errorf("secret file is empty: %s", clean), clean)
	}
	return secret, nil
}

// Resolve returns the secret for field. A file path takes precedence over the
// inline value, which is expanded against the environment. Both empty yields
// an empty secret.
func Resolve(field, file, value string) (string, error) {
	if file != "" {
		secret, err := ReadFile(file)
		if err != nil {
			return "", errors.New(fmt.Errorf("%s: %w", field, err)).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Context("field", field).
				Build()
		}
		return secret, nil
	}

	expanded, err := Expand(value)
	if err != nil {
		return "", errors.New(fmt.Errorf("%s: %w", field, err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Build()
	}
	return expanded, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
