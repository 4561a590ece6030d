// Package commands implements the CLI commands for rqmirrorctl, the
// operator client for a running rqmirrord's admin API.
package commands

import (
	"github.com/rqmirror/rqmirror/cmd/rqmirrorctl/cmdutil"
	queuecmd "github.com/rqmirror/rqmirror/cmd/rqmirrorctl/commands/queue"
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rqmirrorctl",
	Short: "rqmirrorctl - operator client for the rqmirror sync queue",
	Long: `rqmirrorctl is the command-line client for inspecting and managing a
running rqmirrord's request queue and sync processor through its admin API.

Use "rqmirrorctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ServerURL, "server", "http://localhost:8090", "admin API base URL")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queuecmd.Cmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("rqmirrorctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
