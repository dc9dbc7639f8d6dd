package lik

import (
	"math/bits"
	"sort"

	likerrors "github.com/halvorsen-labs/lik/errors"
)

// bucketSlot accumulates everything known about one distinct key while
// a bucket is being filled.
type bucketSlot struct {
	key    uint64
	tag    uint16 // identity bits only; appendix flag is set later by PopulateAppendix
	values []uint64
	saved  uint64 // single value, or an appendix handle once populated
}

func (s *bucketSlot) isSingleton() bool { return len(s.values) == 1 }

// BucketBuilder accumulates records that share one bucket, enforcing
// the intra-bucket tag-uniqueness and 32-key capacity constraints.
// Records must arrive in non-decreasing key order; see Push on the
// smallestKey monotonicity precondition.
type BucketBuilder struct {
	use64       bool
	first       bool
	smallestKey uint64
	largestKey  uint64

	order []uint64
	byKey map[uint64]*bucketSlot
}

// NewBucketBuilder creates an empty bucket builder for a database
// configured with the given value width.
func NewBucketBuilder(use64 bool) *BucketBuilder {
	b := &BucketBuilder{use64: use64}
	b.Reset()
	return b
}

// Reset clears the builder for reuse with the next bucket.
func (b *BucketBuilder) Reset() {
	b.first = true
	b.smallestKey = 0
	b.largestKey = 0
	b.order = b.order[:0]
	b.byKey = make(map[uint64]*bucketSlot, BucketCapacity)
}

// KeysAdded returns the number of distinct keys accumulated so far.
func (b *BucketBuilder) KeysAdded() int { return len(b.order) }

// SingletonCount returns how many of the accumulated keys have exactly
// one value, for builder statistics.
func (b *BucketBuilder) SingletonCount() int {
	n := 0
	for _, key := range b.order {
		if b.byKey[key].isSingleton() {
			n++
		}
	}
	return n
}

// SmallestKey returns the bucket's range boundary: the key of the
// first record pushed since the last Reset.
func (b *BucketBuilder) SmallestKey() uint64 { return b.smallestKey }

// Push adds one (key, value) record to the bucket.
//
// Precondition: within one builder lifetime, keys arrive in
// non-decreasing order. Violating this silently mis-sets smallestKey,
// since it is captured once on the first push and never lowered; the
// database builder enforces monotonicity across the whole stream (see
// db_builder.go), so this method does not re-check it per key.
//
// Returns ErrBucketFull or ErrTagCollision when the caller must flush
// the current bucket and retry the same record against a fresh one —
// these are flush signals, not failures.
func (b *BucketBuilder) Push(key, value uint64) error {
	if b.first {
		b.smallestKey = key
		b.largestKey = key
		b.first = false
	}

	slot, exists := b.byKey[key]
	if !exists {
		if len(b.order) >= BucketCapacity {
			return likerrors.ErrBucketFull
		}
		tag := tag15(key, b.smallestKey) & tagIdentityMask
		for _, k := range b.order {
			if b.byKey[k].tag == tag {
				return likerrors.ErrTagCollision
			}
		}
		slot = &bucketSlot{key: key, tag: tag}
		b.byKey[key] = slot
		b.order = append(b.order, key)
	}
	slot.values = append(slot.values, value)
	if key > b.largestKey {
		b.largestKey = key
	}
	return nil
}

// CommonPrefixBits returns the number of leading bits shared by the
// bucket's smallest and largest keys — statistics only.
func (b *BucketBuilder) CommonPrefixBits() int {
	diff := b.largestKey - b.smallestKey
	if diff == 0 {
		return 64
	}
	return 64 - bits.Len64(diff)
}

// PopulateAppendix writes every multi-value entry's sorted value list
// into the appendix, records the returned handle, and sets the
// entry's appendix flag. Singleton entries store their single value
// directly.
func (b *BucketBuilder) PopulateAppendix(a *Appendix) {
	for _, key := range b.order {
		s := b.byKey[key]
		if s.isSingleton() {
			s.saved = s.values[0]
			continue
		}
		if b.use64 {
			s.saved = a.AddU64List(s.values)
		} else {
			u32 := make([]uint32, len(s.values))
			for i, v := range s.values {
				u32[i] = uint32(v)
			}
			s.saved = uint64(a.AddU32List(u32))
		}
		s.tag |= appendixBit
	}
}

// Pack encodes the bucket into a fixed-size page (192 or 320 bytes,
// matching the builder's value width). Entries are ordered singletons
// first (ascending by value), then multi-value entries; the relative
// order of multi-value entries among themselves is insertion order and
// not part of the format contract.
//
// PopulateAppendix must be called first so that each entry's saved
// field and appendix flag are final.
func (b *BucketBuilder) Pack(page []byte) {
	for i := range page {
		page[i] = 0
	}

	ordered := make([]*bucketSlot, len(b.order))
	for i, key := range b.order {
		ordered[i] = b.byKey[key]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := ordered[i], ordered[j]
		ci, cj := classOf(si), classOf(sj)
		if ci != cj {
			return ci < cj
		}
		if ci == 0 {
			return si.saved < sj.saved
		}
		return false
	})

	for slot, s := range ordered {
		writeTag(page, slot, s.tag)
		if b.use64 {
			writeValueSlot64(page, slot, s.saved)
		} else {
			writeValueSlot32(page, slot, uint32(s.saved))
		}
	}
}

// classOf returns 0 for singleton entries and 1 for multi-value
// entries, giving the primary sort key used by Pack.
func classOf(s *bucketSlot) int {
	if s.isSingleton() {
		return 0
	}
	return 1
}
