package main

import (
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/calibration"
	"github.com/meridian-intel/sentinel-cli/internal/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline and calibration refresher on cron schedules",
	Long:  "Long-running scheduler: executes a pipeline batch and a calibration refresh on the configured cron expressions until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c := cron.New()

		_, err = c.AddFunc(cfg.Schedule.PipelineCron, func() {
			report, err := env.Orchestrator.RunBatch(ctx, pipeline.BatchRequest{})
			if err != nil {
				zap.L().Error("scheduled batch failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled batch done",
				zap.Int("processed", report.ProcessedPosts),
				zap.Int("errors", report.Errors),
				zap.Int("remaining", report.RemainingPosts),
			)
		})
		if err != nil {
			return eris.Wrapf(err, "invalid pipeline cron: %q", cfg.Schedule.PipelineCron)
		}

		_, err = c.AddFunc(cfg.Schedule.CalibrationCron, func() {
			snap, err := env.Refresher.Refresh(ctx, calibration.Params{
				LookbackDays: cfg.Calibration.LookbackDays,
				MinRiskScore: cfg.Calibration.MinRiskScore,
			})
			if err != nil {
				zap.L().Error("scheduled calibration failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled calibration done",
				zap.Int("reviewed", snap.ReviewedCount),
				zap.Float64("risk_threshold", snap.Recommended.Risk),
			)
		})
		if err != nil {
			return eris.Wrapf(err, "invalid calibration cron: %q", cfg.Schedule.CalibrationCron)
		}

		zap.L().Info("scheduler started",
			zap.String("pipeline_cron", cfg.Schedule.PipelineCron),
			zap.String("calibration_cron", cfg.Schedule.CalibrationCron),
		)

		c.Start()
		<-ctx.Done()

		zap.L().Info("scheduler stopping")
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
