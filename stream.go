package lik

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	likerrors "github.com/halvorsen-labs/lik/errors"
)

// headerTagSize is the zero-padded ASCII tag width in a stream header.
const headerTagSize = 16

// streamEndianness is the fixed little-endian marker written into every
// header. load fails if a file was produced on a big-endian host, since
// no byte-swapping is performed on read.
const streamEndianness = uint16(1)

// BinaryWriter is the typed write half of the binary stream
// abstraction. It wraps any io.Writer byte sink — in-memory, file, or
// gzip-compressed file — with framed-header and fixed-width scalar I/O.
type BinaryWriter struct {
	w   io.Writer
	err error
}

// NewBinaryWriter wraps an arbitrary byte sink.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: w}
}

func (bw *BinaryWriter) write(p []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(p)
	if err == nil && n != len(p) {
		err = likerrors.ErrShortWrite
	}
	bw.err = err
}

// Err returns the first error encountered by any write call.
func (bw *BinaryWriter) Err() error { return bw.err }

// WriteHeader writes the fixed 20-byte stream header: a 16-byte
// zero-padded ASCII tag, a 16-bit endianness marker (always 1), and a
// 16-bit version.
func (bw *BinaryWriter) WriteHeader(name string, version uint16) {
	var buf [headerTagSize + 4]byte
	if len(name) > headerTagSize {
		name = name[:headerTagSize]
	}
	copy(buf[:headerTagSize], name)
	binary.LittleEndian.PutUint16(buf[headerTagSize:headerTagSize+2], streamEndianness)
	binary.LittleEndian.PutUint16(buf[headerTagSize+2:], version)
	bw.write(buf[:])
}

// WriteBool writes a single byte: 1 for true, 0 for false.
func (bw *BinaryWriter) WriteBool(v bool) {
	if v {
		bw.write([]byte{1})
	} else {
		bw.write([]byte{0})
	}
}

// WriteUint8 writes a single byte.
func (bw *BinaryWriter) WriteUint8(v uint8) { bw.write([]byte{v}) }

// WriteUint16 writes a little-endian uint16.
func (bw *BinaryWriter) WriteUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	bw.write(buf[:])
}

// WriteUint32 writes a little-endian uint32.
func (bw *BinaryWriter) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	bw.write(buf[:])
}

// WriteUint64 writes a little-endian uint64.
func (bw *BinaryWriter) WriteUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	bw.write(buf[:])
}

// WriteFloat64 writes a little-endian IEEE-754 double.
func (bw *BinaryWriter) WriteFloat64(v float64) {
	bw.WriteUint64(math.Float64bits(v))
}

// WriteRaw writes a raw byte slice with no framing.
func (bw *BinaryWriter) WriteRaw(p []byte) { bw.write(p) }

// WriteU64Vector writes a length-prefixed vector of uint64 values:
// a uint64 count followed by count little-endian uint64 elements.
func (bw *BinaryWriter) WriteU64Vector(values []uint64) {
	bw.WriteUint64(uint64(len(values)))
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	bw.write(buf)
}

// WriteByteBlob writes a length-prefixed opaque byte blob: a uint64
// length followed by the raw bytes (used for the serialized model).
func (bw *BinaryWriter) WriteByteBlob(data []byte) {
	bw.WriteUint64(uint64(len(data)))
	bw.write(data)
}

// BinaryReader is the typed read half of the binary stream abstraction.
type BinaryReader struct {
	r io.Reader
}

// NewBinaryReader wraps an arbitrary byte source.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: r}
}

func (br *BinaryReader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, likerrors.ErrTruncatedFile
		}
		return nil, err
	}
	return buf, nil
}

// ReadHeader reads and validates the 20-byte stream header, checking the
// tag against expectedName and the endianness marker. It returns the
// version field.
func (br *BinaryReader) ReadHeader(expectedName string) (uint16, error) {
	buf, err := br.read(headerTagSize + 4)
	if err != nil {
		return 0, err
	}
	var want [headerTagSize]byte
	copy(want[:], expectedName)
	if !bytes.Equal(buf[:headerTagSize], want[:]) {
		return 0, fmt.Errorf("%w: expected %q", likerrors.ErrInvalidTag, expectedName)
	}
	endian := binary.LittleEndian.Uint16(buf[headerTagSize : headerTagSize+2])
	if endian != streamEndianness {
		return 0, likerrors.ErrInvalidEndian
	}
	version := binary.LittleEndian.Uint16(buf[headerTagSize+2:])
	return version, nil
}

// ReadBool reads a single boolean byte.
func (br *BinaryReader) ReadBool() (bool, error) {
	buf, err := br.read(1)
	if err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// ReadUint8 reads a single byte.
func (br *BinaryReader) ReadUint8() (uint8, error) {
	buf, err := br.read(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (br *BinaryReader) ReadUint16() (uint16, error) {
	buf, err := br.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadUint32 reads a little-endian uint32.
func (br *BinaryReader) ReadUint32() (uint32, error) {
	buf, err := br.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadUint64 reads a little-endian uint64.
func (br *BinaryReader) ReadUint64() (uint64, error) {
	buf, err := br.read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadFloat64 reads a little-endian IEEE-754 double.
func (br *BinaryReader) ReadFloat64() (float64, error) {
	bits, err := br.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// ReadRaw reads exactly n raw bytes.
func (br *BinaryReader) ReadRaw(n int) ([]byte, error) { return br.read(n) }

// ReadU64Vector reads a length-prefixed vector of uint64 values.
func (br *BinaryReader) ReadU64Vector() ([]uint64, error) {
	count, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}
	buf, err := br.read(int(count) * 8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out, nil
}

// ReadByteBlob reads a length-prefixed opaque byte blob.
func (br *BinaryReader) ReadByteBlob() ([]byte, error) {
	n, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}
	return br.read(int(n))
}

// MemoryStream is an in-memory growable byte sink/source, the first of
// the three concrete stream variants.
type MemoryStream struct {
	buf *bytes.Buffer
}

// NewMemoryStream creates an empty in-memory stream for writing.
func NewMemoryStream() *MemoryStream { return &MemoryStream{buf: new(bytes.Buffer)} }

// NewMemoryStreamFromBytes wraps existing bytes for reading.
func NewMemoryStreamFromBytes(data []byte) *MemoryStream {
	return &MemoryStream{buf: bytes.NewBuffer(data)}
}

func (m *MemoryStream) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *MemoryStream) Read(p []byte) (int, error)  { return m.buf.Read(p) }

// Bytes returns the accumulated contents.
func (m *MemoryStream) Bytes() []byte { return m.buf.Bytes() }

// FileStream is a plain file-backed byte sink/source, the second
// concrete stream variant.
type FileStream struct {
	f *os.File
}

// CreateFileStream creates (or truncates) a file for writing.
func CreateFileStream(path string) (*FileStream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileStream{f: f}, nil
}

// OpenFileStream opens an existing file for reading.
func OpenFileStream(path string) (*FileStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileStream{f: f}, nil
}

func (fs *FileStream) Write(p []byte) (int, error) { return fs.f.Write(p) }
func (fs *FileStream) Read(p []byte) (int, error)  { return fs.f.Read(p) }
func (fs *FileStream) Close() error                { return fs.f.Close() }

// File exposes the underlying *os.File, e.g. for mmap'ing by the reader.
func (fs *FileStream) File() *os.File { return fs.f }

// GzipStream wraps a file with gzip compression, the third concrete
// stream variant. It serves the external record-file transport and
// SaveCompressed's gzip-wrapped database files; Load inflates such a
// database into memory instead of memory-mapping it.
type GzipStream struct {
	f  *os.File
	gw *gzip.Writer
	gr *gzip.Reader
}

// CreateGzipStream creates a gzip-compressed file for writing at the
// given compression level (0-9, matching the CLI's --factor flag).
func CreateGzipStream(path string, level int) (*GzipStream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	gw, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &GzipStream{f: f, gw: gw}, nil
}

// OpenGzipStream opens a gzip-compressed file for reading.
func OpenGzipStream(path string) (*GzipStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fadviseSequential(int(f.Fd()), 0, 0)
	gr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &GzipStream{f: f, gr: gr}, nil
}

func (gs *GzipStream) Write(p []byte) (int, error) { return gs.gw.Write(p) }
func (gs *GzipStream) Read(p []byte) (int, error)  { return gs.gr.Read(p) }

// Flush writes any buffered compressed data through to the underlying
// file without ending the gzip stream.
func (gs *GzipStream) Flush() error {
	if gs.gw != nil {
		return gs.gw.Flush()
	}
	return nil
}

// Close flushes (if writing) and closes the underlying file.
func (gs *GzipStream) Close() error {
	var err error
	if gs.gw != nil {
		err = gs.gw.Close()
	}
	if gs.gr != nil {
		err = gs.gr.Close()
	}
	if cerr := gs.f.Close(); err == nil {
		err = cerr
	}
	return err
}
