package cli

import (
	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
)

var (
	snapshotDate    string
	snapshotAgainst string
	snapshotOut     string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch and render the current imbalance view of a local day",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate("date", snapshotDate)
		if err != nil {
			return err
		}
		against, err := parseDate("against", snapshotAgainst)
		if err != nil {
			return err
		}

		opts := app.SnapshotOptions{
			Date:      date,
			Against:   against,
			OutputDir: snapshotOut,
		}
		return getApp().Snapshot(cmd.Context(), opts)
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotDate, "date", "", "Target local date (YYYY-MM-DD, defaults to today)")
	snapshotCmd.Flags().StringVar(&snapshotAgainst, "against", "", "Also diff against this target date (YYYY-MM-DD)")
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "Output directory (defaults to watch.output_dir)")
}
