package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
)

var (
	showLimit int
	showDate  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		date, err := parseDate("date", showDate)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Date:  date,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of checkpoints to display")
	showCmd.Flags().StringVar(&showDate, "date", "", "Print the records stored for this target date (YYYY-MM-DD)")
}
