// Package buildinfo holds build-time metadata injected at startup, kept
// apart from user configuration.
package buildinfo

import "github.com/google/uuid"

// UnknownValue is reported for metadata that was not injected.
const UnknownValue = "unknown"

// Context carries the binary's version and a per-process instance id.
type Context struct {
	version    string
	buildDate  string
	instanceID string
}

// NewContext creates build metadata with a fresh instance id.
func NewContext(version, buildDate string) *Context {
	return &Context{
		version:    version,
		buildDate:  buildDate,
		instanceID: uuid.NewString(),
	}
}

// Version returns the build version or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// InstanceID identifies this process in logs and error reports.
func (c *Context) InstanceID() string {
	if c == nil || c.instanceID == "" {
		return UnknownValue
	}
	return c.instanceID
}

// Release is the release name reported to Sentry.
func (c *Context) Release() string {
	return "beatguard@" + c.Version()
}
