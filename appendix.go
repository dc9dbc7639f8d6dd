package lik

import (
	"encoding/binary"
	"slices"
)

// Appendix is the append-only overflow region that stores sorted value
// lists for keys with more than one value. Once a handle is issued,
// the payload bytes at its offset never move. The value width is
// chosen per list by calling AddU64List or AddU32List; a database uses
// exactly one of the two throughout.
type Appendix struct {
	buf []byte
}

// NewAppendix creates an empty appendix.
func NewAppendix() *Appendix {
	return &Appendix{}
}

// AddU64List sorts values ascending, appends them as raw little-endian
// uint64s, and returns a 64-bit handle: the high 32 bits are the byte
// offset of the payload, the low 32 bits are the element count.
//
// Lists are sorted with a plain ascending integer comparator, a
// lawful strict weak ordering.
func (a *Appendix) AddU64List(values []uint64) uint64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	offset := uint64(len(a.buf))
	count := uint64(len(sorted))

	out := make([]byte, 8*len(sorted))
	for i, v := range sorted {
		binary.LittleEndian.PutUint64(out[i*8:], v)
	}
	a.buf = append(a.buf, out...)

	return (offset << 32) | count
}

// AddU32List records the current byte size as the offset, appends the
// count as a little-endian uint32, then the sorted values as raw
// little-endian uint32s, and returns the offset as a 32-bit handle.
func (a *Appendix) AddU32List(values []uint32) uint32 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	offset := uint32(len(a.buf))

	out := make([]byte, 4+4*len(sorted))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(sorted)))
	for i, v := range sorted {
		binary.LittleEndian.PutUint32(out[4+i*4:], v)
	}
	a.buf = append(a.buf, out...)

	return offset
}

// Data returns the accumulated appendix bytes.
func (a *Appendix) Data() []byte { return a.buf }

// Size returns the current byte size of the appendix.
func (a *Appendix) Size() int { return len(a.buf) }

// decodeU64Handle splits a 64-bit appendix handle into (offset, count).
func decodeU64Handle(h uint64) (offset uint32, count uint32) {
	return uint32(h >> 32), uint32(h & 0xFFFFFFFF)
}

// readU64List reads count little-endian uint64 values starting at
// offset within data (the appendix region of a loaded database).
func readU64List(data []byte, offset, count uint32) []uint64 {
	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(data[int(offset)+i*8:])
	}
	return out
}

// readU32List reads the count-prefixed little-endian uint32 list at
// offset within data.
func readU32List(data []byte, offset uint32) []uint32 {
	count := binary.LittleEndian.Uint32(data[offset:])
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[int(offset)+4+i*4:])
	}
	return out
}
