package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-intel/sentinel-cli/internal/monitoring"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pipeline health metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		hours := statusLookbackHours
		if hours <= 0 {
			hours = cfgLookbackHours()
		}

		snap, err := monitoring.NewCollector(st).Collect(cmd.Context(), hours)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "lookback-hours", 0, "metrics window in hours (default from config)")
	rootCmd.AddCommand(statusCmd)
}
