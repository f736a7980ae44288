// Package poll provides the one-shot retrieval command.
package poll

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/runtime"
)

// Command creates the poll command.
func Command(rt *runtime.Runtime) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "poll [fingerprint id]",
		Short: "Retrieve and ingest detections now",
		Long: `Retrieves detections for one fingerprint, or for every monitored fingerprint
when none is given, and ingests them. --from and --to select a half-open
date range [from, to) in YYYY-MM-DD; the configured lookback applies otherwise.
Interrupting the command still ingests detections already retrieved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rng *model.DateRange
			if from != "" || to != "" {
				r, err := model.NewDateRange(from, to)
				if err != nil {
					return err
				}
				rng = &r
			}

			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := rt.OpenApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var res model.IngestResult
			if len(args) == 1 {
				res, err = a.Scheduler.PollNow(ctx, args[0], rng)
			} else {
				if rng != nil {
					return errors.Newf("--from and --to require a fingerprint id").
							Component("cli").
							Category(errors.CategoryValidation).
							Build()
				}
				res, err = a.Scheduler.PollAll(ctx)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d, duplicate %d, rejected low confidence %d, skipped revoked %d\n",
				res.Inserted, res.Duplicate, res.RejectedLowConfidence, res.SkippedRevoked)
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "End date, exclusive (YYYY-MM-DD)")
	return cmd
}
