package cli

import (
	"github.com/spf13/cobra"
)

var (
	runAddr     string
	runNoServer bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the refresh loop and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if cmd.Flags().Changed("addr") {
			a.Config.Server.Addr = runAddr
		}
		if runNoServer {
			a.Config.Server.Enabled = false
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runAddr, "addr", "", "Override server.addr for the HTTP API")
	runCmd.Flags().BoolVar(&runNoServer, "no-server", false, "Refresh on schedule without serving HTTP")
}
