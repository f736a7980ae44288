// Package monitor provides the commands that toggle platform monitoring.
package monitor

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the monitor command group.
func Command(rt *runtime.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Enable or disable platform monitoring of a fingerprint",
	}
	cmd.AddCommand(enableCommand(rt), disableCommand(rt))
	return cmd
}

func enableCommand(rt *runtime.Runtime) *cobra.Command {
	var platforms []string

	cmd := &cobra.Command{
		Use:   "enable [fingerprint id]",
		Short: "Monitor a fingerprint on the given platforms, replacing any previous set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			fp, err := a.Fingerprints.EnableMonitoring(cmd.Context(), args[0], platforms)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "monitoring %s on %s\n",
				args[0], strings.Join(fp.MonitoredPlatforms, ", "))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "Platforms to monitor, e.g. youtube,spotify")
	return cmd
}

func disableCommand(rt *runtime.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "disable [fingerprint id]",
		Short: "Stop monitoring a fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if _, err := a.Fingerprints.DisableMonitoring(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "monitoring disabled for %s\n", args[0])
			return nil
		},
	}
}
