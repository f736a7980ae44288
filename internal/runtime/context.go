// Package runtime carries the state the CLI commands share after startup:
// build metadata, loaded settings and the central logger.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/beatguard/internal/app"
	"github.com/tphakala/beatguard/internal/buildinfo"
	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

// Runtime is populated by the root command before a subcommand runs.
type Runtime struct {
	Build    *buildinfo.Context
	Settings *conf.Settings
	Logger   *logger.CentralLogger
}

// New creates a Runtime with build metadata. Settings and Logger are set
// once configuration has loaded.
func New(build *buildinfo.Context) *Runtime {
	return &Runtime{Build: build}
}

// OpenApp wires the application components for a command.
func (r *Runtime) OpenApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if r.Settings == nil {
		return nil, errors.Newf("configuration not loaded").
			Component("runtime").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return app.New(ctx, r.Settings, r.Build, opts...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
