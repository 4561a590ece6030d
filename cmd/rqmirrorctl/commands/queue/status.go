package queue

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rqmirror/rqmirror/cmd/rqmirrorctl/cmdutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and in-flight sync activity",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := cmdutil.Client()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	fmt.Printf("Pending entries: %d\n", stats.PendingCount)
	fmt.Printf("Active syncs:    %d\n", stats.ActiveCount)
	return nil
}
