package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aboutPJS/price-api/internal/alerting"
)

var (
	pruneOlderThan string
	simulateKind   string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report data freshness and store reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context())
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete prices older than the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan == "" {
			return getApp().Prune(cmd.Context(), nil)
		}
		cutoff, err := time.Parse(time.RFC3339, pruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value: %w", err)
		}
		return getApp().Prune(cmd.Context(), &cutoff)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a sample alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), alerting.Kind(simulateKind))
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "", "Explicit cutoff (RFC3339); never later than now")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(alerting.KindIngestFailed), "Alert kind: ingest_failed or stale_data")
}
