package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var simulateFile string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用快照文件模拟一次刷新并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFile == "" {
			return errors.New("--file must be provided")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateFile)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFile, "file", "", "JSON snapshot to analyse")
}
