// Package configinit provides the command that writes a default config file.
package configinit

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/conf"
)

// Command creates the init command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config.yaml populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", path)
			return nil
		},
	}
}
