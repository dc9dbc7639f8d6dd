package lik

// TieredRangeArray is the concrete range-array oracle: a
// two-tier compressed view over the sorted sequence of bucket range
// boundaries. The primary tier samples every c-th boundary; the
// secondary tier is simply the full array itself, since the skipped
// values never need to be stored separately to be scanned.
type TieredRangeArray struct {
	values      []uint64
	compression uint32
	primary     []uint64
}

// NewTieredRangeArray builds a range-array oracle over values with the
// given compression factor c. values must be sorted
// ascending and is retained by reference, not copied.
func NewTieredRangeArray(values []uint64, compression uint32) *TieredRangeArray {
	if compression == 0 {
		compression = 1
	}
	r := &TieredRangeArray{values: values, compression: compression}
	r.primary = make([]uint64, 0, (len(values)+int(compression)-1)/int(compression)+1)
	for i := 0; i < len(values); i += int(compression) {
		r.primary = append(r.primary, values[i])
	}
	return r
}

// GetValues returns the full sorted boundary array. The returned slice aliases the oracle's storage.
func (r *TieredRangeArray) GetValues() []uint64 { return r.values }

// GetSize returns the logical element count.
func (r *TieredRangeArray) GetSize() int { return len(r.values) }

// SearchBatch locates, for each key, the primary-tier cell whose
// window contains it, using the model's predicted position and error
// bound to restrict the binary search.
// outBase receives the primary boundary value of that cell; outBucket
// receives the cell index (a hint the caller must refine with
// ValidateBatch).
func (r *TieredRangeArray) SearchBatch(
	keys [InferenceBatchSize]uint64,
	pred, errBound [InferenceBatchSize]uint32,
	outBase *[InferenceBatchSize]uint64,
	outBucket *[InferenceBatchSize]uint32,
) {
	n := uint32(len(r.values))
	numCells := uint32(len(r.primary))
	if n == 0 || numCells == 0 {
		return
	}

	for i, key := range keys {
		lo := int64(pred[i]) - int64(errBound[i])
		hi := int64(pred[i]) + int64(errBound[i])
		if lo < 0 {
			lo = 0
		}
		if hi >= int64(n) {
			hi = int64(n) - 1
		}

		cellLo := uint32(lo) / r.compression
		cellHi := uint32(hi) / r.compression
		if cellHi >= numCells {
			cellHi = numCells - 1
		}
		if cellLo > cellHi {
			cellLo = cellHi
		}

		// The prediction window is advisory: a key that routed through
		// a different leaf than its surrounding boundaries can
		// mis-bound it. When the key falls outside the window, search
		// the untouched remainder of the tier instead.
		if key < r.primary[cellLo] {
			cellHi = cellLo
			cellLo = 0
		} else if cellHi+1 < numCells && key >= r.primary[cellHi+1] {
			cellLo = cellHi + 1
			cellHi = numCells - 1
		}

		cell := searchPrimaryCell(r.primary, cellLo, cellHi, key)
		outBase[i] = r.primary[cell]
		outBucket[i] = cell
	}
}

// searchPrimaryCell returns the greatest index in [lo,hi] whose primary
// value is <= key, biasing toward lo when key falls before every
// candidate in the window (the key is then out of range or the window
// mis-bounded it; ValidateBatch's secondary scan still recovers the
// correct answer for the former case).
func searchPrimaryCell(primary []uint64, lo, hi uint32, key uint64) uint32 {
	if primary[lo] > key {
		return lo
	}
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if primary[mid] <= key {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// ValidateBatch refines each cell hint by scanning the at-most-(c-1)
// secondary entries belonging to that cell, returning the greatest
// overall index whose boundary is <= key: the key's true bucket index.
// base is updated in place to that bucket's own boundary, since the
// bucket probe hashes keys against the exact range of the bucket they
// land in, not the primary cell's.
func (r *TieredRangeArray) ValidateBatch(
	keys [InferenceBatchSize]uint64,
	bucketHint [InferenceBatchSize]uint32,
	base *[InferenceBatchSize]uint64,
	outBucket *[InferenceBatchSize]uint32,
) {
	n := uint32(len(r.values))
	c := r.compression

	for i, key := range keys {
		start := bucketHint[i] * c
		end := start + c
		if end > n {
			end = n
		}
		if start >= n {
			outBucket[i] = n - 1
			base[i] = r.values[n-1]
			continue
		}

		best := start
		for idx := start; idx < end; idx++ {
			if r.values[idx] <= key {
				best = idx
			} else {
				break
			}
		}
		outBucket[i] = best
		base[i] = r.values[best]
	}
}
