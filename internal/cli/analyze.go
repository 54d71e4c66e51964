package cli

import (
	"github.com/spf13/cobra"

	"fraudwatch/internal/app"
)

var (
	analyzeSnapshot snapshotFlags
	analyzeJSON     bool
	analyzeLimit    int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse one snapshot and print flags and risk scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := analyzeSnapshot.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			SnapshotOptions: snap,
			JSON:            analyzeJSON,
			Limit:           analyzeLimit,
		})
	},
}

func init() {
	analyzeSnapshot.register(analyzeCmd.Flags())
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full analytics bundle as JSON")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 20, "Maximum rows per table")
}
