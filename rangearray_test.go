package lik

import (
	"slices"
	"testing"
)

// trueBucket is the reference answer: greatest index whose boundary is
// <= key, or 0 when key precedes every boundary.
func trueBucket(values []uint64, key uint64) uint32 {
	best := 0
	for i, v := range values {
		if v <= key {
			best = i
		} else {
			break
		}
	}
	return uint32(best)
}

// runSingle pushes one key through SearchBatch+ValidateBatch with the
// given prediction and error bound, returning (bucket, base).
func runSingle(ra *TieredRangeArray, key uint64, pred, errBound uint32) (uint32, uint64) {
	var keys [InferenceBatchSize]uint64
	var preds, errs [InferenceBatchSize]uint32
	var base [InferenceBatchSize]uint64
	var hint, bucket [InferenceBatchSize]uint32
	keys[0] = key
	preds[0] = pred
	errs[0] = errBound
	ra.SearchBatch(keys, preds, errs, &base, &hint)
	ra.ValidateBatch(keys, hint, &base, &bucket)
	return bucket[0], base[0]
}

func TestRangeArrayPrimaryTier(t *testing.T) {
	values := []uint64{10, 20, 30, 40, 50, 60, 70}
	ra := NewTieredRangeArray(values, 3)

	if ra.GetSize() != len(values) {
		t.Errorf("GetSize = %d, want %d", ra.GetSize(), len(values))
	}
	if !slices.Equal(ra.GetValues(), values) {
		t.Errorf("GetValues = %v, want %v", ra.GetValues(), values)
	}
	if !slices.Equal(ra.primary, []uint64{10, 40, 70}) {
		t.Errorf("primary tier = %v, want every 3rd value", ra.primary)
	}
}

func TestSearchValidateExactWithPerfectPrediction(t *testing.T) {
	rng := newTestRNG(t)
	values := make([]uint64, 0, 300)
	v := uint64(100)
	for len(values) < 300 {
		v += 1 + rng.Uint64N(1000)
		values = append(values, v)
	}

	for _, compression := range []uint32{1, 2, 3, 4, 8, 16} {
		ra := NewTieredRangeArray(values, compression)
		for i, boundary := range values {
			for _, key := range []uint64{boundary, boundary + 1} {
				bucket, base := runSingle(ra, key, uint32(i), 0)
				want := trueBucket(values, key)
				if bucket != want {
					t.Fatalf("c=%d key=%d pred=%d: bucket = %d, want %d",
						compression, key, i, bucket, want)
				}
				if base != values[want] {
					t.Fatalf("c=%d key=%d: base = %d, want %d",
						compression, key, base, values[want])
				}
			}
		}
	}
}

// A prediction that misses entirely must still resolve, via the
// fallback over the untouched part of the primary tier.
func TestSearchRecoversFromBadPrediction(t *testing.T) {
	values := []uint64{100, 200, 300, 400, 500, 600, 700, 800}
	ra := NewTieredRangeArray(values, 2)

	cases := []struct {
		key  uint64
		pred uint32
	}{
		{750, 0}, // predicted at the start, key near the end
		{150, 7}, // predicted at the end, key near the start
		{400, 0},
		{400, 7},
	}
	for _, tc := range cases {
		bucket, base := runSingle(ra, tc.key, tc.pred, 0)
		want := trueBucket(values, tc.key)
		if bucket != want {
			t.Errorf("key=%d pred=%d: bucket = %d, want %d", tc.key, tc.pred, bucket, want)
		}
		if base != values[want] {
			t.Errorf("key=%d pred=%d: base = %d, want %d", tc.key, tc.pred, base, values[want])
		}
	}
}

func TestValidateKeyBelowFirstBoundary(t *testing.T) {
	values := []uint64{100, 200, 300}
	ra := NewTieredRangeArray(values, 2)

	bucket, base := runSingle(ra, 50, 0, 0)
	if bucket != 0 {
		t.Errorf("bucket = %d, want 0 (key below every boundary lands in bucket 0)", bucket)
	}
	if base != 100 {
		t.Errorf("base = %d, want 100", base)
	}
}

func TestValidateKeyAboveLastBoundary(t *testing.T) {
	values := []uint64{100, 200, 300, 400, 500}
	for _, compression := range []uint32{1, 2, 4} {
		ra := NewTieredRangeArray(values, compression)
		bucket, base := runSingle(ra, 1<<40, 4, 0)
		if bucket != 4 {
			t.Errorf("c=%d: bucket = %d, want 4", compression, bucket)
		}
		if base != 500 {
			t.Errorf("c=%d: base = %d, want 500", compression, base)
		}
	}
}
