package lik

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	likerrors "github.com/halvorsen-labs/lik/errors"
)

// RecordSource is the pull-based record feed driving DatabaseBuilder.
// Implementations must yield records in non-decreasing key order.
type RecordSource interface {
	// Next returns the next record. ok is false once the source is
	// exhausted; err is non-nil only on a genuine read failure.
	Next() (key, value uint64, ok bool, err error)
}

// recordFileHeaderName and recordFileVersion identify the gzip-backed
// record transport format, which is separate from the database format
// and versioned independently.
const (
	recordFileHeaderName = "recfile"
	recordFileVersion    = uint16(1)
)

// GzipRecordFile is a reference RecordSource/sink backed by a
// gzip-compressed file: a stream header followed by fixed-width 16-byte
// (key, value) records,
// used by tests and the CLI's print-records / build-db subcommands to
// exercise the builder against large generated corpora without holding
// them in memory. An xxhash64 running checksum is kept for print-records
// to report, though it is not itself part of the file format.
type GzipRecordFile struct {
	gs    *GzipStream
	hash  *xxhash.Digest
	count uint64
}

// CreateGzipRecordFile creates a new record file for writing at the
// given gzip compression level.
func CreateGzipRecordFile(path string, level int) (*GzipRecordFile, error) {
	gs, err := CreateGzipStream(path, level)
	if err != nil {
		return nil, err
	}
	f := &GzipRecordFile{gs: gs, hash: xxhash.New()}
	bw := NewBinaryWriter(gs)
	bw.WriteHeader(recordFileHeaderName, recordFileVersion)
	if bw.Err() != nil {
		_ = gs.Close()
		return nil, bw.Err()
	}
	return f, nil
}

// OpenGzipRecordFile opens an existing record file for reading.
func OpenGzipRecordFile(path string) (*GzipRecordFile, error) {
	gs, err := OpenGzipStream(path)
	if err != nil {
		return nil, err
	}
	br := NewBinaryReader(gs)
	if _, err := br.ReadHeader(recordFileHeaderName); err != nil {
		_ = gs.Close()
		return nil, err
	}
	return &GzipRecordFile{gs: gs, hash: xxhash.New()}, nil
}

// WriteRecord appends one (key, value) pair.
func (f *GzipRecordFile) WriteRecord(key, value uint64) error {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], key)
	binary.LittleEndian.PutUint64(buf[8:16], value)
	if _, err := f.gs.Write(buf[:]); err != nil {
		return err
	}
	_, _ = f.hash.Write(buf[:])
	f.count++
	return nil
}

// Finish flushes buffered records through to the file. The running
// xxhash64 checksum remains available via Checksum for the caller to
// log or compare; it is not written into the file, since the format
// has no trailer and relies on gzip EOF to end the record stream
// cleanly.
func (f *GzipRecordFile) Finish() error {
	return f.gs.Flush()
}

// Checksum returns the xxhash64 of every record written or read so
// far, for print-records to report.
func (f *GzipRecordFile) Checksum() uint64 { return f.hash.Sum64() }

// Count returns the number of records written or read so far.
func (f *GzipRecordFile) Count() uint64 { return f.count }

// Next implements RecordSource, reading one (key, value) pair at a
// time from the underlying gzip stream.
func (f *GzipRecordFile) Next() (key, value uint64, ok bool, err error) {
	var buf [16]byte
	if _, err := io.ReadFull(f.gs, buf[:]); err != nil {
		if err == io.EOF {
			return 0, 0, false, nil
		}
		return 0, 0, false, likerrors.ErrTruncatedFile
	}
	_, _ = f.hash.Write(buf[:])
	f.count++
	key = binary.LittleEndian.Uint64(buf[0:8])
	value = binary.LittleEndian.Uint64(buf[8:16])
	return key, value, true, nil
}

// Close closes the underlying gzip file.
func (f *GzipRecordFile) Close() error { return f.gs.Close() }

// SliceRecordSource adapts an in-memory slice of (key, value) pairs
// into a RecordSource, for tests that build small fixtures without
// touching the filesystem.
type SliceRecordSource struct {
	Keys   []uint64
	Values []uint64
	pos    int
}

// Next implements RecordSource.
func (s *SliceRecordSource) Next() (key, value uint64, ok bool, err error) {
	if s.pos >= len(s.Keys) {
		return 0, 0, false, nil
	}
	key, value = s.Keys[s.pos], s.Values[s.pos]
	s.pos++
	return key, value, true, nil
}
