package queue

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rqmirror/rqmirror/cmd/rqmirrorctl/cmdutil"
	"github.com/rqmirror/rqmirror/internal/cliutil"
)

var listParent string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending queue entries",
	Long: `List pending queue entries.

Examples:
  # List every pending entry
  rqmirrorctl queue list

  # List only entries under /docs
  rqmirrorctl queue list --parent /docs`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listParent, "parent", "", "restrict the listing to entries under this parent directory")
}

// entryRow renders a queue entry for table display.
type entryRow struct {
	Path    string
	Method  string
	Retries int
}

// entryTable is a list of entryRow for table rendering.
type entryTable []entryRow

func (t entryTable) Headers() []string { return []string{"PATH", "METHOD", "RETRIES"} }

func (t entryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{e.Path, e.Method, fmt.Sprintf("%d", e.Retries)})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client := cmdutil.Client()

	if listParent != "" {
		parent := strings.TrimPrefix(listParent, "/")
		requests, err := client.ListQueueForParent(parent)
		if err != nil {
			return fmt.Errorf("failed to list queue: %w", err)
		}
		rows := make(entryTable, 0, len(requests))
		for name, method := range requests {
			rows = append(rows, entryRow{Path: listParent + "/" + name, Method: method})
		}
		if len(rows) == 0 {
			fmt.Println("No pending entries.")
			return nil
		}
		cliutil.PrintTable(os.Stdout, rows)
		return nil
	}

	entries, err := client.ListQueue()
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No pending entries.")
		return nil
	}

	rows := make(entryTable, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow{Path: e.Path, Method: e.Method, Retries: e.Retries})
	}
	cliutil.PrintTable(os.Stdout, rows)
	return nil
}
