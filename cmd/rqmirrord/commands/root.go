// Package commands implements the rqmirrord server's CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/rqmirror/rqmirror/cmd/rqmirrord/cmdutil"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rqmirrord",
	Short: "rqmirrord - write-back SMB cache server over a remote content repository",
	Long: `rqmirrord serves a share backed by a local write-back cache: reads and
writes land on a local filesystem tree immediately, and a background sync
processor drains a durable request queue into a remote HTTP or S3 content
repository.

Use "rqmirrord [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/rqmirror/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}
