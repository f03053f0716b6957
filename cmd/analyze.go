package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <stage> <post-id>",
	Short: "Run a single analysis stage for one post",
	Long:  "Stage is one of: summarize, quick, deep, deepest.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, postID := args[0], args[1]

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var result any
		switch stage {
		case "summarize":
			result, err = env.Analyzer.Summarize(cmd.Context(), postID)
		case "quick":
			result, err = env.Analyzer.QuickScreen(cmd.Context(), postID)
		case "deep":
			result, err = env.Analyzer.DeepAnalyze(cmd.Context(), postID)
		case "deepest":
			result, err = env.Analyzer.DeepestAnalyze(cmd.Context(), postID)
		default:
			return eris.Errorf("unknown stage: %s", stage)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
