// Package reconcile provides the summary reconciliation command.
package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the reconcile command.
func Command(rt *runtime.Runtime) *cobra.Command {
	var assetID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute detection summaries from the stored detections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			corrected, err := a.Reconcile(cmd.Context(), assetID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d summaries corrected\n", corrected)
			return nil
		},
	}

	cmd.Flags().StringVar(&assetID, "asset", "", "Reconcile only this asset and its owner")
	return cmd
}
