package queue

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rqmirror/rqmirror/cmd/rqmirrorctl/cmdutil"
	"github.com/rqmirror/rqmirror/internal/cliutil"
)

var purgeForce bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge entries that exhausted their retry budget",
	Long: `Purge triggers the same poisoned-entry purge the sync processor runs on
its own schedule, immediately, instead of waiting for the next pass.

Examples:
  # Prompt for confirmation before purging
  rqmirrorctl queue purge

  # Purge without prompting
  rqmirrorctl queue purge --force`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "purge without prompting for confirmation")
}

func runPurge(cmd *cobra.Command, args []string) error {
	confirmed, err := cliutil.ConfirmWithForce("Purge all poisoned queue entries?", purgeForce)
	if err != nil {
		if cliutil.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	client := cmdutil.Client()
	purged, err := client.Purge()
	if err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}

	if len(purged) == 0 {
		fmt.Println("Nothing to purge.")
		return nil
	}
	fmt.Printf("Purged %d entr", len(purged))
	if len(purged) == 1 {
		fmt.Println("y:")
	} else {
		fmt.Println("ies:")
	}
	for _, e := range purged {
		fmt.Printf("  %s\n", e.Path)
	}
	return nil
}
