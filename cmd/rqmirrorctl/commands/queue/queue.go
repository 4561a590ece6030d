// Package queue implements the "rqmirrorctl queue" command group.
package queue

import "github.com/spf13/cobra"

// Cmd is the "queue" command group.
var Cmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the pending request queue",
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(purgeCmd)
}
