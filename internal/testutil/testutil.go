// Package testutil provides shared fixtures for beatguard tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/datastore"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

const (
	// DefaultTestTimeout bounds waits on asynchronous work.
	DefaultTestTimeout = 5 * time.Second

	// PollInterval is the tick used with require.Eventually.
	PollInterval = 5 * time.Millisecond
)

// QuietLogger returns a logger that only emits errors, to stdout.
func QuietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

// OpenStore opens a private in-memory SQLite store closed at test cleanup.
func OpenStore(t *testing.T) *datastore.Store {
	t.Helper()
	s, err := datastore.OpenSQLite(datastore.MemoryPath, QuietLogger(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// RegisterAsset drives assetID through registering to registered with the
// provider fingerprint fpID, as the registrar does after a provider success.
func RegisterAsset(t *testing.T, s *datastore.Store, assetID, ownerID, fpID string) {
	t.Helper()
	ctx := t.Context()

	_, err := s.EnsureFingerprint(ctx, assetID, ownerID, "bucket-1")
	require.NoError(t, err)
	ok, err := s.TransitionState(ctx, assetID,
		[]model.RegistrationState{model.StateUnregistered}, model.StateRegistering, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkRegistered(ctx, assetID, fpID))
}

// WaitForChannel fails the test if ch is not signalled within timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}
