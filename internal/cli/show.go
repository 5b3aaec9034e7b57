package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboutPJS/price-api/internal/app"
)

var (
	showHours int
	showRuns  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display upcoming prices with their tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showHours <= 0 {
			return fmt.Errorf("--hours must be greater than zero")
		}
		if showRuns < 0 {
			return fmt.Errorf("--runs cannot be negative")
		}

		opts := app.ShowOptions{
			Hours: showHours,
			Runs:  showRuns,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showHours, "hours", 48, "Number of hours to display from the current hour")
	showCmd.Flags().IntVar(&showRuns, "runs", 5, "Number of recent ingest runs to display")
}
