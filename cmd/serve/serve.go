// Package serve provides the long-running service command.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/app"
	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the serve command.
func Command(rt *runtime.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll monitored fingerprints and serve the dashboard API",
		Long: `Resumes polling for every fingerprint with monitoring enabled, serves the
read-only dashboard API and metrics, and reconciles summaries periodically.
Stops on SIGINT or SIGTERM after in-flight poll cycles have been ingested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := rt.OpenApp(ctx, app.WithBackgroundPolling())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Serve(ctx)
		},
	}
}
