package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-intel/sentinel-cli/internal/pipeline"
)

var (
	runMaxPosts  int
	runSummarize bool
	runQuick     bool
	runDeep      bool
	runDeepest   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch of the analysis pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.RunBatch(cmd.Context(), pipeline.BatchRequest{
			MaxPosts:     runMaxPosts,
			RunSummarize: &runSummarize,
			RunQuick:     &runQuick,
			RunDeep:      &runDeep,
			RunDeepest:   &runDeepest,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxPosts, "max-posts", 0, "maximum posts per batch (default from config)")
	runCmd.Flags().BoolVar(&runSummarize, "summarize", true, "run the summarize stage")
	runCmd.Flags().BoolVar(&runQuick, "quick", true, "run the quick screening stage")
	runCmd.Flags().BoolVar(&runDeep, "deep", true, "run the deep analysis stage")
	runCmd.Flags().BoolVar(&runDeepest, "deepest", true, "run the escalation stage")
	rootCmd.AddCommand(runCmd)
}
