package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"imbalance-watch/internal/app"
	"imbalance-watch/internal/period"
)

var (
	simulateDate     string
	simulatePeriod   int
	simulatePrevious float64
	simulateLatest   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic imbalance update through the alert channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePeriod < 1 || simulatePeriod > period.PerDay {
			return errors.New("--period must be between 1 and 48")
		}
		date, err := parseDate("date", simulateDate)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{
			Date:     date,
			Period:   simulatePeriod,
			Previous: decimal.NewFromFloat(simulatePrevious),
			Latest:   decimal.NewFromFloat(simulateLatest),
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateDate, "date", "", "Target local date (YYYY-MM-DD, defaults to today)")
	simulateCmd.Flags().IntVar(&simulatePeriod, "period", 1, "Settlement period to move")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Previously published imbalance in MW")
	simulateCmd.Flags().Float64Var(&simulateLatest, "latest", 0, "Newly published imbalance in MW")
}
