// Command waterwheel runs the scheduling core's server process, or
// applies its database migrations, depending on the subcommand.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "0.0.0"

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "waterwheel",
		Short: "Distributed workflow scheduler core",
		Long:  "waterwheel [server|migrate|version] [flags]",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: env only)")

	root.AddCommand(serverCommand())
	root.AddCommand(migrateCommand())
	root.AddCommand(versionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
