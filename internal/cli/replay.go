package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fraudwatch/internal/app"
)

var (
	replaySnapshot snapshotFlags
	replayStep     time.Duration
	replayWorkers  int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Analyse consecutive historical windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := replaySnapshot.options(cmd)
		if err != nil {
			return err
		}
		if snap.From == nil || snap.To == nil {
			return fmt.Errorf("--from and --to must be provided")
		}
		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			SnapshotOptions: snap,
			Step:            replayStep,
			Workers:         replayWorkers,
		})
	},
}

func init() {
	replaySnapshot.register(replayCmd.Flags())
	replayCmd.Flags().DurationVar(&replayStep, "step", 0, "Window length (defaults to source.window)")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 2, "Number of concurrent windows")
}
