// Command likctl builds, inspects, and benchmarks lik databases.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cmdRoot = &cobra.Command{
	Use:               "likctl",
	Short:             "Build and query lik learned-index databases",
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(0)
	},
}

// sharedOptions bundles flags common to several subcommands.
type sharedOptions struct {
	File   string
	Out    string
	Mode   string
	Seed   int64
	Factor int
	N1     int64
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
