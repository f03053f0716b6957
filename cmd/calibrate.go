package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-intel/sentinel-cli/internal/calibration"
)

var (
	calibrateLookbackDays int
	calibrateMinRiskScore float64
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Recompute decision thresholds from human review labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Refresher.Refresh(cmd.Context(), calibration.Params{
			LookbackDays: calibrateLookbackDays,
			MinRiskScore: calibrateMinRiskScore,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	calibrateCmd.Flags().IntVar(&calibrateLookbackDays, "lookback-days", 0, "review window in days (default from config)")
	calibrateCmd.Flags().Float64Var(&calibrateMinRiskScore, "min-risk-score", 0, "ignore reviewed posts below this score")
	rootCmd.AddCommand(calibrateCmd)
}
