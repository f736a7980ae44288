// Package summary prints dashboard summaries as JSON.
package summary

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/app"
	"github.com/tphakala/beatguard/internal/dashboard"
	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the summary command group.
func Command(rt *runtime.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show detection summaries",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent [owner id]",
		Short: "Show an owner's most recent detections",
		Args:  cobra.ExactArgs(1),
		RunE: run(rt, func(cmd *cobra.Command, a *app.App, id string) (any, error) {
			return a.Dashboard.RecentDetections(cmd.Context(), id, limit)
		}),
	}
	recent.Flags().IntVarP(&limit, "limit", "n", dashboard.DefaultRecentLimit, "Number of detections (max 100)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "asset [asset id]",
			Short: "Show the detection summary of an asset",
			Args:  cobra.ExactArgs(1),
			RunE: run(rt, func(cmd *cobra.Command, a *app.App, id string) (any, error) {
				return a.Dashboard.AssetSummary(cmd.Context(), id)
			}),
		},
		&cobra.Command{
			Use:   "owner [owner id]",
			Short: "Show the detection summary across an owner's assets",
			Args:  cobra.ExactArgs(1),
			RunE: run(rt, func(cmd *cobra.Command, a *app.App, id string) (any, error) {
				return a.Dashboard.OwnerSummary(cmd.Context(), id)
			}),
		},
		recent,
	)
	return cmd
}

type query func(cmd *cobra.Command, a *app.App, id string) (any, error)

func run(rt *runtime.Runtime, q query) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := rt.OpenApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		v, err := q(cmd, a, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
