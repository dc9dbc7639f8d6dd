package lik

import (
	"encoding/binary"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

// BucketCapacity is K, the maximum number of distinct keys a bucket may
// hold.
const BucketCapacity = 32

// TagLineSize is the size in bytes of the first cache line: K 16-bit
// tags packed contiguously.
const TagLineSize = BucketCapacity * 2 // 64 bytes

// Bucket32Size and Bucket64Size are the two fixed page sizes.
const (
	Bucket32Size = TagLineSize + BucketCapacity*4 // 192 bytes
	Bucket64Size = TagLineSize + BucketCapacity*8 // 320 bytes
)

// bucketSize returns the page size for a database's value width.
func bucketSize(use64 bool) int {
	if use64 {
		return Bucket64Size
	}
	return Bucket32Size
}

// appendixBit is bit 0 of a tag: 0 means the paired slot holds the
// key's single value, 1 means it holds an appendix handle.
const appendixBit = uint16(1)

// tagIdentityMask clears the appendix flag so tag comparison never
// treats it as part of the hash identity.
const tagIdentityMask = ^appendixBit

// tag15 computes the 16-bit hash tag for a key within a bucket whose
// smallest key is base: a murmur3 32→16 folding hash of (key-base)
// with bit 0 cleared. A computed tag of zero is remapped to 2, since
// tag 0 is the reserved empty-slot sentinel.
//
// Subtracting base concentrates entropy in the low bits, since keys
// sharing one bucket also share a common high-order prefix.
func tag15(key, base uint64) uint16 {
	delta := key - base
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], delta)
	h32 := murmur3.Sum32(buf[:])
	h16 := uint16(h32) ^ uint16(h32>>16)
	h16 &= tagIdentityMask
	if h16 == 0 {
		h16 = 2
	}
	return h16
}

// haszero16 locates zero 16-bit lanes within a 64-bit word using the
// classic SWAR trick: a lane becomes zero only where the subtraction
// borrows out of a set high bit that the original lane lacked. The
// result has bit 15 of each zero lane set, all other bits unspecified
// outside those flags within each lane's top bit.
func haszero16(v uint64) uint64 {
	const lo = 0x0001000100010001
	const hi = 0x8000800080008000
	return (v - lo) & ^v & hi
}

// broadcast16 repeats a 16-bit value across all four lanes of a word.
func broadcast16(v uint16) uint64 {
	w := uint64(v)
	return w | w<<16 | w<<32 | w<<48
}

// probeBucket performs the SIMD-style tag comparison over a bucket's
// tag line. It scans the 64-byte tag line as eight
// 64-bit words (four 16-bit lanes each) — a portable fallback for
// targets without wide vector registers.
//
// Both sides are masked with tagIdentityMask so the appendix flag never
// participates in the comparison. Returns the slot index of the first
// (and, by the tag-uniqueness invariant, only) match, or -1.
func probeBucket(page []byte, tag uint16) int {
	maskedTarget := broadcast16(tag & tagIdentityMask)
	lineMask := broadcast16(tagIdentityMask)

	for w := 0; w < TagLineSize/8; w++ {
		word := binary.LittleEndian.Uint64(page[w*8:])
		masked := word & lineMask
		m := haszero16(masked ^ maskedTarget)
		if m != 0 {
			lane := bits.TrailingZeros64(m) / 16
			return w*4 + lane
		}
	}
	return -1
}

// bucketPopulation returns the number of non-zero tags in a bucket,
// i.e. the bucket's distinct-key population.
func bucketPopulation(page []byte) int {
	count := 0
	for w := 0; w < TagLineSize/8; w++ {
		word := binary.LittleEndian.Uint64(page[w*8:])
		zeros := haszero16(word)
		for lane := 0; lane < 4; lane++ {
			if zeros&(uint64(1)<<(lane*16+15)) == 0 {
				count++
			}
		}
	}
	return count
}

// readTag reads the raw (unmasked) tag at a slot, including the
// appendix flag in bit 0.
func readTag(page []byte, slot int) uint16 {
	return binary.LittleEndian.Uint16(page[slot*2:])
}

// writeTag writes the raw tag at a slot.
func writeTag(page []byte, slot int, tag uint16) {
	binary.LittleEndian.PutUint16(page[slot*2:], tag)
}

// readValueSlot32/64 read the value area for a given slot index.
func readValueSlot32(page []byte, slot int) uint32 {
	off := TagLineSize + slot*4
	return binary.LittleEndian.Uint32(page[off:])
}

func readValueSlot64(page []byte, slot int) uint64 {
	off := TagLineSize + slot*8
	return binary.LittleEndian.Uint64(page[off:])
}

func writeValueSlot32(page []byte, slot int, v uint32) {
	off := TagLineSize + slot*4
	binary.LittleEndian.PutUint32(page[off:], v)
}

func writeValueSlot64(page []byte, slot int, v uint64) {
	off := TagLineSize + slot*8
	binary.LittleEndian.PutUint64(page[off:], v)
}

// isAppendixEntry reports whether the given raw tag's appendix flag is
// set (bit 0 == 1).
func isAppendixEntry(tag uint16) bool { return tag&appendixBit != 0 }
