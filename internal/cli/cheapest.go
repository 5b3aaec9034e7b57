package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aboutPJS/price-api/internal/app"
)

var cheapestWithin int

var cheapestCmd = &cobra.Command{
	Use:   "cheapest",
	Short: "Query the cheapest hour or block of hours",
}

var cheapestHourCmd = &cobra.Command{
	Use:   "hour",
	Short: "Print the cheapest upcoming hour",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cheapestWithin < 0 {
			return fmt.Errorf("--within must not be negative")
		}
		return getApp().Cheapest(cmd.Context(), app.CheapestOptions{WithinHours: cheapestWithin})
	},
}

var cheapestSequenceCmd = &cobra.Command{
	Use:   "sequence <duration-hours>",
	Short: "Print the start of the cheapest block of consecutive hours",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, err := strconv.Atoi(args[0])
		if err != nil || duration < 1 {
			return fmt.Errorf("duration must be a positive integer, got %q", args[0])
		}
		if cheapestWithin < 0 {
			return fmt.Errorf("--within must not be negative")
		}
		return getApp().Cheapest(cmd.Context(), app.CheapestOptions{Duration: duration, WithinHours: cheapestWithin})
	},
}

func init() {
	cheapestCmd.PersistentFlags().IntVar(&cheapestWithin, "within", 0, "Look ahead window in hours (0 uses all available prices)")
	cheapestCmd.AddCommand(cheapestHourCmd)
	cheapestCmd.AddCommand(cheapestSequenceCmd)
}
