package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
	backfillRender bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Checkpoint the current snapshot of a range of target dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseDate("from", backfillFrom)
		if err != nil {
			return err
		}

		to, err := parseDate("to", backfillTo)
		if err != nil {
			return err
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
			Render: backfillRender,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First target date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last target date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().BoolVar(&backfillRender, "render", false, "Also render each snapshot")
}
