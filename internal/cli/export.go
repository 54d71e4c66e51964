package cli

import (
	"github.com/spf13/cobra"

	"fraudwatch/internal/app"
)

var (
	exportSnapshot snapshotFlags
	exportPNGPath  string
	exportCSVDir   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an analysis as CSV tables and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := exportSnapshot.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			SnapshotOptions: snap,
			PNGPath:         exportPNGPath,
			CSVDir:          exportCSVDir,
		})
	},
}

func init() {
	exportSnapshot.register(exportCmd.Flags())
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the amount trend chart")
	exportCmd.Flags().StringVar(&exportCSVDir, "csv-dir", "", "Directory to write flags.csv, customers.csv and intervals.csv")
}
