// Package datastore persists fingerprints, detections and their summaries.
package datastore

import (
	"fmt"

	"github.com/tphakala/beatguard/internal/errors"
)

const componentDatastore = "datastore"

// Sentinel errors returned by the store. Callers match them with errors.Is.
var (
	ErrFingerprintNotFound = errors.NewStd("fingerprint not found")
	ErrMonitoringActive    = errors.NewStd("monitoring is enabled for this fingerprint")
	ErrStateConflict       = errors.NewStd("fingerprint is not in the expected state")
	ErrNotInitialized      = errors.NewStd("database connection is not initialized")
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component(componentDatastore).
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError wraps ErrFingerprintNotFound with the lookup key.
func notFoundError(operation, field, value string) error {
	return errors.New(fmt.Errorf("%w: %s=%s", ErrFingerprintNotFound, field, value)).
		Component(componentDatastore).
		Category(errors.CategoryNotFound).
		Context("operation", operation).
		Context(field, value).
		Build()
}

// validationError creates a validation error (not sent to users by default)
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component(componentDatastore).
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}
