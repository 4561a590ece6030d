// Package cmdutil provides shared state and helpers for rqmirrorctl
// subcommands, grounded on the teacher's cmd/dittofsctl/cmdutil package.
package cmdutil

import (
	"github.com/rqmirror/rqmirror/pkg/adminclient"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL string
	Force     bool
}

// Client returns an adminclient.Client pointed at the configured server.
func Client() *adminclient.Client {
	return adminclient.New(Flags.ServerURL)
}
