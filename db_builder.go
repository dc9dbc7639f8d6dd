package lik

import (
	"io"
	"math"

	likerrors "github.com/halvorsen-labs/lik/errors"
)

// dbHeaderName and dbHeaderVersion identify the on-disk database
// format.
const (
	dbHeaderName    = "db"
	dbHeaderVersion = uint16(1)
)

// bucketBlobTag marks the start of the packed-bucket region.
var bucketBlobTag = [4]byte{'b', 'l', 'b', 0}

// BuildListener receives build progress notifications. Embed
// NoopBuildListener to satisfy the interface without implementing
// every method.
type BuildListener interface {
	OnProgress(recordsProcessed uint64)
	OnBucketEmitted(bucketIndex uint64, keysInBucket int, singletons int)
	OnTrainStart(rangeCount int)
	OnTrainDone(err error)
}

// NoopBuildListener implements BuildListener with no-ops.
type NoopBuildListener struct{}

func (NoopBuildListener) OnProgress(uint64)                {}
func (NoopBuildListener) OnBucketEmitted(uint64, int, int) {}
func (NoopBuildListener) OnTrainStart(int)                 {}
func (NoopBuildListener) OnTrainDone(error)                {}

// defaultCompression is the range-array primary-tier sampling factor
// used when the caller does not request one explicitly.
const defaultCompression = 16

type buildConfig struct {
	compression uint32
	layerSizes  []uint32
	listener    BuildListener
}

// BuildOption configures a DatabaseBuilder.
type BuildOption func(*buildConfig)

// WithCompression sets the range array's primary-tier sampling factor
// c.
func WithCompression(c uint32) BuildOption {
	return func(cfg *buildConfig) { cfg.compression = c }
}

// WithLayerSizes overrides the learned model's default layer layout.
// Leave unset to use the size-based defaults.
func WithLayerSizes(sizes []uint32) BuildOption {
	return func(cfg *buildConfig) { cfg.layerSizes = append([]uint32(nil), sizes...) }
}

// WithListener attaches a build progress observer.
func WithListener(l BuildListener) BuildOption {
	return func(cfg *buildConfig) { cfg.listener = l }
}

// DatabaseBuilder streams sorted (key, value) records into a sequence
// of packed buckets, then trains the learned model over the resulting
// range boundaries. A builder is single-use: single-threaded,
// forward-only, and not reusable after Finish or Discard.
type DatabaseBuilder struct {
	use64 bool
	cfg   buildConfig

	scratch  *BucketBuilder
	appendix *Appendix
	buckets  []byte
	ranges   []uint64

	haveLastKey bool
	lastKey     uint64

	totalKeyNum     uint64
	distinctKeyNum  uint64
	singletonNum    uint64
	usedBytes       uint64
	prefixBitsSum   float64
	prefixBitsSumSq float64
	prefixBitsN     uint64

	closed    bool
	discarded bool
}

// NewDatabaseBuilder creates a builder for a database with the given
// value width.
func NewDatabaseBuilder(use64 bool, opts ...BuildOption) (*DatabaseBuilder, error) {
	cfg := buildConfig{
		compression: defaultCompression,
		listener:    NoopBuildListener{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.listener == nil {
		cfg.listener = NoopBuildListener{}
	}
	return &DatabaseBuilder{
		use64:    use64,
		cfg:      cfg,
		scratch:  NewBucketBuilder(use64),
		appendix: NewAppendix(),
	}, nil
}

// AddRecord pushes one (key, value) record. Records must arrive in
// non-decreasing key order across the whole stream; violating this
// returns ErrUnsortedInput.
func (d *DatabaseBuilder) AddRecord(key, value uint64) error {
	if d.discarded {
		return likerrors.ErrDatabaseDiscarded
	}
	if d.closed {
		return likerrors.ErrBuilderClosed
	}
	if d.haveLastKey && key < d.lastKey {
		return likerrors.ErrUnsortedInput
	}
	d.haveLastKey = true
	d.lastKey = key

	if err := d.scratch.Push(key, value); err != nil {
		d.finalizeBucket()
		d.scratch.Reset()
		if err2 := d.scratch.Push(key, value); err2 != nil {
			return err2
		}
	}

	d.totalKeyNum++
	d.cfg.listener.OnProgress(d.totalKeyNum)
	return nil
}

// finalizeBucket populates the appendix from the current scratch
// bucket, records its range boundary, packs and emits its page, and
// folds its statistics into the running totals.
func (d *DatabaseBuilder) finalizeBucket() {
	if d.scratch.KeysAdded() == 0 {
		return
	}

	d.scratch.PopulateAppendix(d.appendix)
	d.ranges = append(d.ranges, d.scratch.SmallestKey())

	page := make([]byte, bucketSize(d.use64))
	d.scratch.Pack(page)
	d.buckets = append(d.buckets, page...)

	keys := d.scratch.KeysAdded()
	singles := d.scratch.SingletonCount()
	valueWidth := 4
	if d.use64 {
		valueWidth = 8
	}
	d.distinctKeyNum += uint64(keys)
	d.singletonNum += uint64(singles)
	d.usedBytes += uint64(keys * (2 + valueWidth))

	pb := float64(d.scratch.CommonPrefixBits())
	d.prefixBitsSum += pb
	d.prefixBitsSumSq += pb * pb
	d.prefixBitsN++

	d.cfg.listener.OnBucketEmitted(uint64(len(d.ranges)-1), keys, singles)
}

// Discard abandons the builder. Use this after an unrecoverable error
// from AddRecord or Finish.
func (d *DatabaseBuilder) Discard() {
	d.closed = true
	d.discarded = true
	d.scratch = nil
	d.appendix = nil
	d.buckets = nil
	d.ranges = nil
}

// Finish flushes any pending bucket, trains the learned model over the
// emitted range boundaries, and returns a ready-to-query Reader. The
// builder must not be used afterward.
func (d *DatabaseBuilder) Finish() (*Reader, error) {
	if d.discarded {
		return nil, likerrors.ErrDatabaseDiscarded
	}
	if d.closed {
		return nil, likerrors.ErrBuilderClosed
	}
	d.finalizeBucket()

	if len(d.ranges) == 0 {
		d.Discard()
		return nil, likerrors.ErrEmptyDatabase
	}

	d.cfg.listener.OnTrainStart(len(d.ranges))
	model := NewRMIModel(d.cfg.layerSizes)
	if err := model.Train(d.ranges); err != nil {
		d.cfg.listener.OnTrainDone(err)
		d.Discard()
		return nil, likerrors.ErrTrainingFailed
	}
	d.cfg.listener.OnTrainDone(nil)

	mean := d.prefixBitsSum / float64(d.prefixBitsN)
	variance := d.prefixBitsSumSq/float64(d.prefixBitsN) - mean*mean
	if variance < 0 {
		variance = 0
	}

	r := &Reader{
		use64:       d.use64,
		compression: d.cfg.compression,
		buckets:     d.buckets,
		appendix:    d.appendix.Data(),
		ranges:      append([]uint64(nil), d.ranges...),
		stats: Stats{
			TotalKeyNum:      d.totalKeyNum,
			DistinctKeyNum:   d.distinctKeyNum,
			SingletonNum:     d.singletonNum,
			UsedBytes:        d.usedBytes,
			PrefixBitsMean:   mean,
			PrefixBitsStddev: math.Sqrt(variance),
		},
		model: model,
	}
	r.rangeArray = NewTieredRangeArray(r.ranges, r.compression)
	r.loaded = true

	d.closed = true
	return r, nil
}

// Save serializes a built Reader to a plain file in the pinned on-disk
// layout. Plain files can be memory-mapped by Load.
func Save(r *Reader, path string) error {
	if err := r.checkSavable(); err != nil {
		return err
	}
	fs, err := CreateFileStream(path)
	if err != nil {
		return err
	}
	defer fs.Close()

	// Reserve the full file up front so a full disk fails here rather
	// than mid-stream.
	if err := fallocateFile(fs.File(), int64(20+8+r.payloadSize())); err != nil {
		return err
	}
	return saveTo(r, fs)
}

// SaveCompressed serializes a built Reader through a gzip stream at the
// given compression level (0-9). Load transparently decompresses such
// files, trading the memory-mapped fast path for smaller storage.
func SaveCompressed(r *Reader, path string, level int) error {
	if err := r.checkSavable(); err != nil {
		return err
	}
	gs, err := CreateGzipStream(path, level)
	if err != nil {
		return err
	}
	if err := saveTo(r, gs); err != nil {
		_ = gs.Close()
		return err
	}
	return gs.Close()
}

func (r *Reader) checkSavable() error {
	if r.closed.Load() {
		return likerrors.ErrReaderClosed
	}
	if !r.loaded {
		return likerrors.ErrReaderEmpty
	}
	return nil
}

// payloadSize is the byte count recorded in the total field: everything
// after that field, model blob included.
func (r *Reader) payloadSize() uint64 {
	return 1 + 8 + 8 + 4 + /* bool+appendix+bucket_count+compression */
		8*6 + /* stats */
		4 + uint64(len(r.buckets)) +
		uint64(len(r.appendix)) +
		8 + 8*uint64(len(r.ranges)) +
		8 + uint64(len(r.model.Store()))
}

func saveTo(r *Reader, w io.Writer) error {
	bw := NewBinaryWriter(w)
	bw.WriteHeader(dbHeaderName, dbHeaderVersion)
	bw.WriteUint64(r.payloadSize())
	bw.WriteBool(r.use64)
	bw.WriteUint64(uint64(len(r.appendix)))
	bw.WriteUint64(uint64(len(r.ranges)))
	bw.WriteUint32(r.compression)

	bw.WriteUint64(r.stats.TotalKeyNum)
	bw.WriteUint64(r.stats.DistinctKeyNum)
	bw.WriteUint64(r.stats.SingletonNum)
	bw.WriteUint64(r.stats.UsedBytes)
	bw.WriteFloat64(r.stats.PrefixBitsMean)
	bw.WriteFloat64(r.stats.PrefixBitsStddev)

	bw.WriteRaw(bucketBlobTag[:])
	bw.WriteRaw(r.buckets)
	bw.WriteRaw(r.appendix)
	bw.WriteU64Vector(r.ranges)
	bw.WriteByteBlob(r.model.Store())

	return bw.Err()
}
