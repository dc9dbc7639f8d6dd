package lik

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"testing"
)

// newTestRNG derives a deterministic, per-test PRNG from the test name so
// tests are reproducible yet don't share a stream across subtests.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(s1, s2))
}

// genSortedRecords produces n records with strictly increasing keys drawn
// from a sparse 64-bit space, each with a value count in [1, maxDup].
// About 10% of keys are non-singletons. Values fit the given width.
func genSortedRecords(rng *rand.Rand, n int, maxDup int, use64 bool) (keys []uint64, values [][]uint64) {
	keys = make([]uint64, n)
	values = make([][]uint64, n)
	key := rng.Uint64N(1 << 20)
	for i := 0; i < n; i++ {
		key += 1 + rng.Uint64N(1<<16)
		keys[i] = key

		dup := 1
		if maxDup > 1 && rng.IntN(10) == 0 {
			dup = 2 + rng.IntN(maxDup-1)
		}
		vals := make([]uint64, dup)
		for j := range vals {
			if use64 {
				vals[j] = rng.Uint64()
			} else {
				vals[j] = uint64(rng.Uint32())
			}
		}
		values[i] = vals
	}
	return keys, values
}

// buildTestDatabase streams genSortedRecords-shaped data into a builder and
// returns the resulting Reader, failing the test on any error.
func buildTestDatabase(t testing.TB, use64 bool, keys []uint64, values [][]uint64, opts ...BuildOption) *Reader {
	t.Helper()
	b, err := NewDatabaseBuilder(use64, opts...)
	if err != nil {
		t.Fatalf("NewDatabaseBuilder: %v", err)
	}
	for i, key := range keys {
		for _, v := range values[i] {
			if err := b.AddRecord(key, v); err != nil {
				t.Fatalf("AddRecord(%d, %d): %v", key, v, err)
			}
		}
	}
	r, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return r
}

// decodeValues turns a Query result pointer back into a value slice of
// the database's width.
func decodeValues(use64 bool, num uint32, raw []byte) []uint64 {
	if num == 0 {
		return nil
	}
	out := make([]uint64, num)
	for i := range out {
		if use64 {
			out[i] = binary.LittleEndian.Uint64(raw[i*8:])
		} else {
			out[i] = uint64(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return out
}

// queryValues looks up a single key, padding it into one batch, and
// returns the decoded value list (nil on a miss).
func queryValues(t testing.TB, r *Reader, key uint64) []uint64 {
	t.Helper()
	var keys [InferenceBatchSize]uint64
	var num [InferenceBatchSize]uint32
	var ptr [InferenceBatchSize][]byte
	keys[0] = key
	r.Query(keys, &num, &ptr)
	return decodeValues(r.use64, num[0], ptr[0])
}

// expectValues is the canonical answer for a key: the single inserted
// value for singletons, the ascending-sorted list otherwise.
func expectValues(inserted []uint64) []uint64 {
	out := slices.Clone(inserted)
	if len(out) > 1 {
		slices.Sort(out)
	}
	return out
}

// checkKey asserts that querying key yields exactly the inserted values.
func checkKey(t testing.TB, r *Reader, key uint64, inserted []uint64) {
	t.Helper()
	got := queryValues(t, r, key)
	want := expectValues(inserted)
	if !slices.Equal(got, want) {
		t.Fatalf("key %d: got values %v, want %v", key, got, want)
	}
}
