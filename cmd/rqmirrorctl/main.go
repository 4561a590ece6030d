// Command rqmirrorctl is the operator CLI for a running rqmirrord.
package main

import (
	"fmt"
	"os"

	"github.com/rqmirror/rqmirror/cmd/rqmirrorctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
