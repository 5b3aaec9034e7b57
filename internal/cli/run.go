package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var fetchDay string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily fetch scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without fetching",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, classify and store prices once",
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now()
		if fetchDay != "" {
			parsed, err := time.Parse(time.DateOnly, fetchDay)
			if err != nil {
				return fmt.Errorf("invalid --day value: %w", err)
			}
			day = parsed
		}
		return getApp().Fetch(cmd.Context(), day)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchDay, "day", "", "First day of the export (YYYY-MM-DD, defaults to today)")
}
