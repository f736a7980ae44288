// Package register provides the command that fingerprints a catalog asset.
package register

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/acrcloud"
	"github.com/tphakala/beatguard/internal/fingerprint"
	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the register command.
func Command(rt *runtime.Runtime) *cobra.Command {
	var req fingerprint.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register [audio file]",
		Short: "Upload an asset's audio and register its fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}
			req.Audio = acrcloud.Audio{Filename: filepath.Base(args[0]), Data: data}

			a, err := rt.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			fp, err := a.Fingerprints.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "asset %s registered, fingerprint id %s\n", fp.AssetID, fp.ProviderID())
			return nil
		},
	}

	cmd.Flags().StringVar(&req.AssetID, "asset", "", "Catalog asset id")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "Owner id of the asset")
	cmd.Flags().StringVar(&req.Title, "title", "", "Track title")
	cmd.Flags().StringVar(&req.Artist, "artist", "", "Track artist")
	cmd.Flags().StringVar(&req.Album, "album", "", "Album name")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
