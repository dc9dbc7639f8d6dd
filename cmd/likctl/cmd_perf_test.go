package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/halvorsen-labs/lik"
	"github.com/spf13/cobra"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

var perfTestOpts sharedOptions

var cmdPerfTest = &cobra.Command{
	Use:   "perf-test",
	Short: "Benchmark query throughput across independent concurrent readers",
	Long: `
The "perf-test" command opens one independent Reader per CPU against
the database at --file and drives each through --n1 query batches of
N=4 random keys. Each reader accumulates its own PerfStats via
QueryPerf; this command never issues concurrent queries against a
single reader.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there
was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPerfTest(perfTestOpts)
	},
}

func init() {
	cmdRoot.AddCommand(cmdPerfTest)

	f := cmdPerfTest.Flags()
	f.StringVar(&perfTestOpts.File, "file", "", "lik database file to read (required)")
	f.Int64Var(&perfTestOpts.Seed, "seed", 1, "PRNG seed")
	f.Int64Var(&perfTestOpts.N1, "n1", 100_000, "number of query batches per reader")
	_ = cmdPerfTest.MarkFlagRequired("file")
}

func runPerfTest(opts sharedOptions) error {
	workers := runtime.NumCPU()

	// Fingerprint the query key population up front so two perf runs
	// against the same corpus and seed can be compared without
	// re-shipping the corpus.
	probe, err := lik.Load(opts.File)
	if err != nil {
		return err
	}
	ranges := probe.Ranges()
	rb := make([]byte, 8*len(ranges))
	for i, r := range ranges {
		binary.LittleEndian.PutUint64(rb[i*8:], r)
	}
	fp := xxh3.Hash128Seed(rb, uint64(opts.Seed))
	_ = probe.Close()
	fmt.Printf("key-space fingerprint: %016x%016x\n", fp.Hi, fp.Lo)

	g, _ := errgroup.WithContext(context.Background())
	results := make([]lik.PerfStats, workers)
	elapsed := make([]time.Duration, workers)

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			db, err := lik.Load(opts.File)
			if err != nil {
				return err
			}
			defer db.Close()

			ranges := db.Ranges()
			if len(ranges) == 0 {
				return nil
			}
			rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(w)))

			start := time.Now()
			var keys [lik.InferenceBatchSize]uint64
			var num [lik.InferenceBatchSize]uint32
			var ptr [lik.InferenceBatchSize][]byte
			for i := int64(0); i < opts.N1; i++ {
				for k := range keys {
					keys[k] = ranges[rng.IntN(len(ranges))]
				}
				db.QueryPerf(keys, &num, &ptr)
			}
			elapsed[w] = time.Since(start)
			results[w] = db.PerfStats()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	var totalQueries, totalHits, totalMisses uint64
	var totalWall time.Duration
	for w := 0; w < workers; w++ {
		totalQueries += results[w].Queries
		totalHits += results[w].Hits
		totalMisses += results[w].Misses
		totalWall += elapsed[w]
	}
	fmt.Printf("workers=%d batches=%d queries=%d hits=%d misses=%d avg_wall=%v\n",
		workers, opts.N1, totalQueries, totalHits, totalMisses, totalWall/time.Duration(workers))
	return nil
}
