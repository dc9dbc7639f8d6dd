package main

import (
	"fmt"

	"github.com/halvorsen-labs/lik"
	"github.com/spf13/cobra"
)

var buildDBOpts sharedOptions

var cmdBuildDB = &cobra.Command{
	Use:   "build-db",
	Short: "Build a lik database from a gzip record file",
	Long: `
The "build-db" command streams sorted (key, value) records from a
gzip record file and builds a lik database, writing the result to the
path given by --out.

--mode selects the value width: "32" or "64" (default "64").
--n1 sets the range-array compression factor (default 16).
--factor gzips the output database at the given level (1-9); 0 writes
a plain file that "perf-test" can memory-map.
--seed is accepted but not used or stored; the builder performs no
randomized work.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there
was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuildDB(buildDBOpts)
	},
}

func init() {
	cmdRoot.AddCommand(cmdBuildDB)

	f := cmdBuildDB.Flags()
	f.StringVar(&buildDBOpts.File, "file", "", "gzip record file to read (required)")
	f.StringVar(&buildDBOpts.Out, "out", "out.lik", "path to write the built database")
	f.StringVar(&buildDBOpts.Mode, "mode", "64", "value width: 32 or 64")
	f.Int64Var(&buildDBOpts.Seed, "seed", 0, "accepted but unused: the build is deterministic")
	f.Int64Var(&buildDBOpts.N1, "n1", 16, "range-array compression factor")
	f.IntVar(&buildDBOpts.Factor, "factor", 0, "gzip level for the output database (0 writes a plain mmap-able file)")
	_ = cmdBuildDB.MarkFlagRequired("file")
}

type cliBuildListener struct{}

func (cliBuildListener) OnProgress(n uint64) {
	if n%1_000_000 == 0 && n > 0 {
		fmt.Printf("... %d records processed\n", n)
	}
}
func (cliBuildListener) OnBucketEmitted(idx uint64, keys, singles int) {}
func (cliBuildListener) OnTrainStart(rangeCount int) {
	fmt.Printf("training model over %d ranges\n", rangeCount)
}
func (cliBuildListener) OnTrainDone(err error) {
	if err != nil {
		fmt.Printf("training failed: %v\n", err)
	} else {
		fmt.Println("training done")
	}
}

func runBuildDB(opts sharedOptions) error {
	use64 := opts.Mode != "32"

	rf, err := lik.OpenGzipRecordFile(opts.File)
	if err != nil {
		return err
	}
	defer rf.Close()

	b, err := lik.NewDatabaseBuilder(
		use64,
		lik.WithCompression(uint32(opts.N1)),
		lik.WithListener(cliBuildListener{}),
	)
	if err != nil {
		return err
	}

	for {
		key, value, ok, err := rf.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := b.AddRecord(key, value); err != nil {
			b.Discard()
			return err
		}
	}

	db, err := b.Finish()
	if err != nil {
		return err
	}
	defer db.Close()

	if opts.Factor > 0 {
		err = lik.SaveCompressed(db, opts.Out, opts.Factor)
	} else {
		err = lik.Save(db, opts.Out)
	}
	if err != nil {
		return err
	}

	stats := db.Stats()
	fmt.Printf("wrote %s: %d total keys, %d distinct, %d singletons, %d buckets\n",
		opts.Out, stats.TotalKeyNum, stats.DistinctKeyNum, stats.SingletonNum, len(db.Ranges()))
	return nil
}
