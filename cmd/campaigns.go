package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

var campaignsDays int

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Detect coordinated campaigns among flagged posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		days := campaignsDays
		if days <= 0 {
			days = cfg.Campaign.TimeRangeDays
		}
		to := time.Now().UTC()
		from := to.Add(-time.Duration(days) * 24 * time.Hour)

		campaigns, err := env.Detector.Detect(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		if campaigns == nil {
			campaigns = []model.Campaign{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"campaigns": campaigns})
	},
}

func init() {
	campaignsCmd.Flags().IntVar(&campaignsDays, "days", 0, "detection window in days (default from config)")
	rootCmd.AddCommand(campaignsCmd)
}
