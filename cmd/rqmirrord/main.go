// Command rqmirrord is the write-back SMB cache server.
package main

import (
	"fmt"
	"os"

	"github.com/rqmirror/rqmirror/cmd/rqmirrord/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
