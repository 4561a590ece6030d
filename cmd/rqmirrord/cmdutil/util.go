// Package cmdutil holds the global flag state shared between rqmirrord's
// root command and its subcommands, the way cmd/dittofs/commands keeps
// cfgFile as a package-level var threaded through InitLogger/GetConfigFile.
package cmdutil

// ConfigFile is the --config flag value, empty if unset (Load falls back
// to the default search path).
var ConfigFile string
