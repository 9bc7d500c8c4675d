package cli

import (
	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
)

var (
	generationDate string
	generationOut  string
)

var generationCmd = &cobra.Command{
	Use:   "generation",
	Short: "Compare day-ahead wind and solar forecasts with actual output",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate("date", generationDate)
		if err != nil {
			return err
		}
		return getApp().Generation(cmd.Context(), app.GenerationOptions{Date: date, OutputDir: generationOut})
	},
}

func init() {
	generationCmd.Flags().StringVar(&generationDate, "date", "", "Target local date (YYYY-MM-DD, defaults to today)")
	generationCmd.Flags().StringVar(&generationOut, "out", "", "Output directory (defaults to watch.output_dir)")
}
