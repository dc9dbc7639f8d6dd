package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/halvorsen-labs/lik"
	"github.com/spf13/cobra"
)

var extractRangesOpts sharedOptions

var cmdExtractRanges = &cobra.Command{
	Use:   "extract-ranges",
	Short: "Print a lik database's bucket range boundaries",
	Long: `
The "extract-ranges" command opens a lik database and prints the
sorted vector of per-bucket range boundaries, one per line, to stdout or to the file given by
--out.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there
was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractRanges(extractRangesOpts)
	},
}

func init() {
	cmdRoot.AddCommand(cmdExtractRanges)

	f := cmdExtractRanges.Flags()
	f.StringVar(&extractRangesOpts.File, "file", "", "lik database file to read (required)")
	f.StringVar(&extractRangesOpts.Out, "out", "", "file to write ranges to (default stdout)")
	_ = cmdExtractRanges.MarkFlagRequired("file")
}

func runExtractRanges(opts sharedOptions) error {
	db, err := lik.Load(opts.File)
	if err != nil {
		return err
	}
	defer db.Close()

	out := os.Stdout
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	defer w.Flush()
	for _, r := range db.Ranges() {
		fmt.Fprintln(w, r)
	}
	return nil
}
