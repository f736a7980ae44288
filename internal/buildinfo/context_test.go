package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Version(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{"nil context", nil, UnknownValue},
		{"empty version", NewContext("", "2026-01-01"), UnknownValue},
		{"valid version", NewContext("1.2.0", "2026-01-01"), "1.2.0"},
		{"pre-release tag", NewContext("1.2.0-beta.1", "2026-01-01"), "1.2.0-beta.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContext_BuildDate(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.BuildDate())
	assert.Equal(t, UnknownValue, NewContext("1.0.0", "").BuildDate())
	assert.Equal(t, "2026-01-01T12:00:00Z", NewContext("1.0.0", "2026-01-01T12:00:00Z").BuildDate())
}

func TestContext_InstanceID(t *testing.T) {
	t.Parallel()

	a, b := NewContext("1.0.0", ""), NewContext("1.0.0", "")
	_, err := uuid.Parse(a.InstanceID())
	require.NoError(t, err)
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())

	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.InstanceID())
}

func TestContext_Release(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "beatguard@1.2.0", NewContext("1.2.0", "").Release())
	assert.Equal(t, "beatguard@unknown", NewContext("", "").Release())
}
