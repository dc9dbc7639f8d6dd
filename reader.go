package lik

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"

	likerrors "github.com/halvorsen-labs/lik/errors"
)

// Stats holds the summary statistics recorded at build time and
// carried in the database header.
type Stats struct {
	TotalKeyNum      uint64
	DistinctKeyNum   uint64
	SingletonNum     uint64
	UsedBytes        uint64
	PrefixBitsMean   float64
	PrefixBitsStddev float64
}

// PerfStats accumulates the timing and hit/miss counters recorded by
// QueryPerf.
type PerfStats struct {
	Queries uint64
	Hits    uint64
	Misses  uint64
	TotalNs uint64
}

// Reader is a loaded, read-only database. A Reader has two states:
// empty (the zero value, never returned by Load, LoadBytes, or a
// builder's Finish) and loaded. Queries on a loaded Reader are safe
// for concurrent use across independent Reader instances; QueryPerf
// mutates this Reader's own counters and must not be called
// concurrently with itself.
type Reader struct {
	mm mmap.MMap // non-nil only when Load memory-mapped a file

	use64       bool
	compression uint32

	buckets  []byte
	appendix []byte
	ranges   []uint64

	stats      Stats
	model      *RMIModel
	rangeArray *TieredRangeArray

	perf PerfStats

	loaded bool
	closed atomic.Bool
}

const (
	dbScalarHeaderSize = 1 + 8 + 8 + 4 // use64, appendix_size, bucket_count, compression
	dbStatsSize        = 8 * 6
)

// Load opens a database file, memory-maps it, and parses it in place.
// The bucket and appendix regions alias directly into the mapping; no
// copy is made of them. A file written by SaveCompressed is detected by
// its gzip magic and decompressed into memory instead of being mapped.
func Load(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, likerrors.ErrTruncatedFile
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		return loadGzip(path)
	}

	fadviseSequential(int(f.Fd()), 0, 0)

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap database file: %w", err)
	}

	r, err := parseDatabase([]byte(mm))
	if err != nil {
		_ = mm.Unmap()
		return nil, err
	}
	prefaultRegion(r.buckets)
	r.mm = mm
	return r, nil
}

func loadGzip(path string) (*Reader, error) {
	gs, err := OpenGzipStream(path)
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	data, err := io.ReadAll(gs)
	if err != nil {
		return nil, err
	}
	return parseDatabase(data)
}

// LoadBytes parses an in-memory database image without memory-mapping
// anything; Close on the result is a no-op.
func LoadBytes(data []byte) (*Reader, error) {
	return parseDatabase(data)
}

// parseDatabase validates the header and unpacks every field in the
// pinned on-disk layout. All parse errors are fatal: the caller
// receives no partially-initialized Reader.
func parseDatabase(data []byte) (*Reader, error) {
	br := NewBinaryReader(bytes.NewReader(data))
	version, err := br.ReadHeader(dbHeaderName)
	if err != nil {
		return nil, err
	}
	if version != dbHeaderVersion {
		return nil, likerrors.ErrInvalidVersion
	}

	total, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}
	if uint64(len(data))-20-8 < total {
		return nil, likerrors.ErrTruncatedFile
	}

	use64, err := br.ReadBool()
	if err != nil {
		return nil, err
	}
	appendixSize, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}
	bucketCount, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}
	compression, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}

	var stats Stats
	if stats.TotalKeyNum, err = br.ReadUint64(); err != nil {
		return nil, err
	}
	if stats.DistinctKeyNum, err = br.ReadUint64(); err != nil {
		return nil, err
	}
	if stats.SingletonNum, err = br.ReadUint64(); err != nil {
		return nil, err
	}
	if stats.UsedBytes, err = br.ReadUint64(); err != nil {
		return nil, err
	}
	if stats.PrefixBitsMean, err = br.ReadFloat64(); err != nil {
		return nil, err
	}
	if stats.PrefixBitsStddev, err = br.ReadFloat64(); err != nil {
		return nil, err
	}

	tag, err := br.ReadRaw(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tag, bucketBlobTag[:]) {
		return nil, likerrors.ErrMissingBucketTag
	}

	// Everything from here on is large and read by slicing data
	// directly rather than copying through BinaryReader, preserving
	// the zero-copy property of the mapped buffer. Counts are bounded
	// against the buffer size before any allocation so a corrupt
	// header cannot trigger a huge make.
	headerLen := 20 + 8 + dbScalarHeaderSize + dbStatsSize + 4
	if bucketCount > uint64(len(data))/uint64(bucketSize(use64)) ||
		appendixSize > uint64(len(data)) {
		return nil, likerrors.ErrTruncatedFile
	}
	bucketsLen := int(bucketCount) * bucketSize(use64)
	bucketsOff := headerLen
	appendixOff := bucketsOff + bucketsLen
	if appendixOff+int(appendixSize) > len(data) {
		return nil, likerrors.ErrTruncatedFile
	}

	r := &Reader{
		use64:       use64,
		compression: compression,
		buckets:     data[bucketsOff : bucketsOff+bucketsLen],
		appendix:    data[appendixOff : appendixOff+int(appendixSize)],
		stats:       stats,
	}

	rangesOff := appendixOff + int(appendixSize)
	rbr := NewBinaryReader(bytes.NewReader(data[rangesOff:]))
	rangeCount, err := rbr.ReadUint64()
	if err != nil {
		return nil, err
	}
	if rangeCount != bucketCount {
		return nil, likerrors.ErrCorruptedIndex
	}
	ranges := make([]uint64, rangeCount)
	for i := range ranges {
		if ranges[i], err = rbr.ReadUint64(); err != nil {
			return nil, err
		}
	}
	r.ranges = ranges

	modelLen, err := rbr.ReadUint64()
	if err != nil {
		return nil, err
	}
	if modelLen > uint64(len(data)) {
		return nil, likerrors.ErrTruncatedFile
	}
	modelBlob, err := rbr.ReadRaw(int(modelLen))
	if err != nil {
		return nil, err
	}
	model, err := LoadRMIModel(modelBlob)
	if err != nil {
		return nil, err
	}
	r.model = model
	r.rangeArray = NewTieredRangeArray(r.ranges, r.compression)
	r.loaded = true
	return r, nil
}

// Stats returns the database's summary statistics.
func (r *Reader) Stats() Stats { return r.stats }

// Ranges returns a defensive copy of the bucket range-boundary vector.
func (r *Reader) Ranges() []uint64 { return append([]uint64(nil), r.ranges...) }

// PerfStats returns the timing and hit/miss counters accumulated by
// QueryPerf so far.
func (r *Reader) PerfStats() PerfStats { return r.perf }

// Close releases the underlying memory mapping, if any. After Close,
// Query and QueryPerf must not be called; Save and Debug return
// ErrReaderClosed, and a further Close is a no-op.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.mm != nil {
		return r.mm.Unmap()
	}
	return nil
}

// Query performs one batched lookup of InferenceBatchSize keys.
// out[i] receives the number of values stored for
// keys[i]; ptr[i] aliases into the Reader's buffers and holds exactly
// out[i] contiguous little-endian values of the database's value
// width (4 or 8 bytes each). A miss yields out[i]=0, ptr[i]=nil.
func (r *Reader) Query(keys [InferenceBatchSize]uint64, out *[InferenceBatchSize]uint32, ptr *[InferenceBatchSize][]byte) {
	r.queryInto(keys, out, ptr, nil)
}

// QueryPerf behaves like Query but additionally accumulates timing and
// hit/miss counters into the Reader's PerfStats. Must not be called
// concurrently with itself on the same Reader.
func (r *Reader) QueryPerf(keys [InferenceBatchSize]uint64, out *[InferenceBatchSize]uint32, ptr *[InferenceBatchSize][]byte) {
	start := time.Now()
	r.queryInto(keys, out, ptr, &r.perf)
	r.perf.TotalNs += uint64(time.Since(start).Nanoseconds())
}

func (r *Reader) queryInto(
	keys [InferenceBatchSize]uint64,
	out *[InferenceBatchSize]uint32,
	ptr *[InferenceBatchSize][]byte,
	perf *PerfStats,
) {
	var pred, errBound [InferenceBatchSize]uint32
	r.model.InferenceBatch(keys, &pred, &errBound)

	var base [InferenceBatchSize]uint64
	var bucketHint, bucketIdx [InferenceBatchSize]uint32
	r.rangeArray.SearchBatch(keys, pred, errBound, &base, &bucketHint)
	r.rangeArray.ValidateBatch(keys, bucketHint, &base, &bucketIdx)

	width := 4
	if r.use64 {
		width = 8
	}
	bsize := bucketSize(r.use64)

	for i, key := range keys {
		off := int(bucketIdx[i]) * bsize
		page := r.buckets[off : off+bsize]
		tag := tag15(key, base[i])

		slot := probeBucket(page, tag)
		if slot < 0 {
			out[i] = 0
			ptr[i] = nil
			if perf != nil {
				perf.Misses++
			}
			continue
		}

		rawTag := readTag(page, slot)
		if !isAppendixEntry(rawTag) {
			out[i] = 1
			valOff := TagLineSize + slot*width
			ptr[i] = page[valOff : valOff+width]
		} else if r.use64 {
			h := readValueSlot64(page, slot)
			aoff, cnt := decodeU64Handle(h)
			out[i] = cnt
			ptr[i] = r.appendix[aoff : aoff+cnt*8]
		} else {
			o := readValueSlot32(page, slot)
			cnt := binary.LittleEndian.Uint32(r.appendix[o:])
			out[i] = cnt
			ptr[i] = r.appendix[o+4 : o+4+cnt*4]
		}
		if perf != nil {
			perf.Hits++
		}
	}
	if perf != nil {
		perf.Queries++
	}
}

// Debug traces one key through the full lookup pipeline and returns a
// human-readable report of each stage: model prediction, range search,
// validation, tag, and the matched slot contents. Intended for
// interactive inspection, not hot paths.
func (r *Reader) Debug(key uint64) (string, error) {
	if r.closed.Load() {
		return "", likerrors.ErrReaderClosed
	}
	if !r.loaded {
		return "", likerrors.ErrReaderEmpty
	}

	var keys [InferenceBatchSize]uint64
	keys[0] = key

	var pred, errBound [InferenceBatchSize]uint32
	r.model.InferenceBatch(keys, &pred, &errBound)

	var base [InferenceBatchSize]uint64
	var bucketHint, bucketIdx [InferenceBatchSize]uint32
	r.rangeArray.SearchBatch(keys, pred, errBound, &base, &bucketHint)
	r.rangeArray.ValidateBatch(keys, bucketHint, &base, &bucketIdx)

	tag := tag15(key, base[0])

	var sb strings.Builder
	fmt.Fprintf(&sb, "key: %d model-out: %d error: %d base-range: %d bucket-index: %d tag: %#04x\n",
		key, pred[0], errBound[0], base[0], bucketIdx[0], tag)

	bsize := bucketSize(r.use64)
	off := int(bucketIdx[0]) * bsize
	page := r.buckets[off : off+bsize]
	fmt.Fprintf(&sb, "bucket population: %d\n", bucketPopulation(page))

	slot := probeBucket(page, tag)
	if slot < 0 {
		sb.WriteString("no matching slot\n")
		return sb.String(), nil
	}

	rawTag := readTag(page, slot)
	switch {
	case !isAppendixEntry(rawTag):
		if r.use64 {
			fmt.Fprintf(&sb, "slot %d: singleton value %d\n", slot, readValueSlot64(page, slot))
		} else {
			fmt.Fprintf(&sb, "slot %d: singleton value %d\n", slot, readValueSlot32(page, slot))
		}
	case r.use64:
		aoff, cnt := decodeU64Handle(readValueSlot64(page, slot))
		fmt.Fprintf(&sb, "slot %d: appendix offset %d count %d values %v\n",
			slot, aoff, cnt, readU64List(r.appendix, aoff, cnt))
	default:
		o := readValueSlot32(page, slot)
		fmt.Fprintf(&sb, "slot %d: appendix offset %d values %v\n",
			slot, o, readU32List(r.appendix, o))
	}
	return sb.String(), nil
}
