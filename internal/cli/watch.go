package cli

import (
	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
)

var watchDate string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll for new imbalance publications and report changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate("date", watchDate)
		if err != nil {
			return err
		}
		return getApp().Watch(cmd.Context(), app.WatchOptions{Date: date})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchDate, "date", "", "Target local date (YYYY-MM-DD, defaults to today)")
}
