package main

import (
	"fmt"

	"github.com/halvorsen-labs/lik"
	"github.com/spf13/cobra"
)

var printRecordsOpts sharedOptions

var cmdPrintRecords = &cobra.Command{
	Use:   "print-records",
	Short: "Print every (key, value) record in a gzip record file",
	Long: `
The "print-records" command reads a gzip-compressed record file and
prints each (key, value) pair to stdout, one per line, along with a
running xxhash64 checksum once the file is exhausted.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there
was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrintRecords(printRecordsOpts.File)
	},
}

func init() {
	cmdRoot.AddCommand(cmdPrintRecords)

	f := cmdPrintRecords.Flags()
	f.StringVar(&printRecordsOpts.File, "file", "", "gzip record file to read (required)")
	_ = cmdPrintRecords.MarkFlagRequired("file")
}

func runPrintRecords(path string) error {
	rf, err := lik.OpenGzipRecordFile(path)
	if err != nil {
		return err
	}
	defer rf.Close()

	for {
		key, value, ok, err := rf.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Printf("%d\t%d\n", key, value)
	}
	fmt.Printf("# %d records, checksum=%x\n", rf.Count(), rf.Checksum())
	return nil
}
