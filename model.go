package lik

import (
	"encoding/binary"
	"math"
	"slices"

	likerrors "github.com/halvorsen-labs/lik/errors"
	likbits "github.com/halvorsen-labs/lik/internal/bits"
)

// InferenceBatchSize is N, the fixed SIMD micro-batch width used by both
// the model and range-array oracles.
const InferenceBatchSize = 4

// defaultLayerSizes returns the builder's default recursive-model layer
// layout for a range array of the given size.
func defaultLayerSizes(n int) []uint32 {
	switch {
	case n < 1000:
		return []uint32{1}
	case n < 10000:
		return []uint32{1, 8}
	case n < 100000:
		return []uint32{1, 8, 55}
	default:
		return []uint32{1, 8, 119}
	}
}

// defaultErrorThreshold is the worst final-layer error bound that Train
// accepts for a defaulted layout before escalating to the next larger
// one.
const defaultErrorThreshold = 64

// linearLeaf is one piecewise-linear segment of a layer: position ≈
// slope*key + intercept, with the largest observed over- and
// under-estimate recorded as signed error offsets.
type linearLeaf struct {
	slope     float64
	intercept float64
	minErr    int64
	maxErr    int64
}

func (l *linearLeaf) predict(key uint64) int64 {
	return int64(math.Round(l.slope*float64(key) + l.intercept))
}

// errBound returns the symmetric search radius implied by this leaf's
// recorded asymmetric error bounds.
func (l *linearLeaf) errBound() uint32 {
	hi := l.maxErr
	if -l.minErr > hi {
		hi = -l.minErr
	}
	if hi < 0 {
		hi = 0
	}
	return uint32(hi)
}

const linearLeafSize = 8 + 8 + 8 + 8 // slope, intercept, minErr, maxErr

func (l *linearLeaf) marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(l.slope))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(l.intercept))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(l.minErr))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(l.maxErr))
}

func (l *linearLeaf) unmarshal(buf []byte) {
	l.slope = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
	l.intercept = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	l.minErr = int64(binary.LittleEndian.Uint64(buf[16:24]))
	l.maxErr = int64(binary.LittleEndian.Uint64(buf[24:32]))
}

// RMIModel is the concrete model oracle: a recursive
// model index with one linear model per stage. Every non-final layer
// routes a key to one model in the next layer; the final layer
// predicts the key's position in the range array directly.
type RMIModel struct {
	layerSizes []uint32
	layers     [][]linearLeaf
	maxPos     uint32
}

// NewRMIModel constructs an untrained model oracle handle for the
// given layer layout.
func NewRMIModel(layerSizes []uint32) *RMIModel {
	return &RMIModel{layerSizes: append([]uint32(nil), layerSizes...)}
}

// escalationLadder is the sequence of layouts Train walks through when
// a defaulted model underfits.
var escalationLadder = [][]uint32{{1}, {1, 8}, {1, 8, 55}, {1, 8, 119}}

// Train fits every layer's linear models over the compressed range
// array. Values must be sorted ascending; position i is the implicit
// training target for values[i].
//
// With no explicit layer layout, training starts from the size-based
// default and escalates along the ladder until the worst leaf error
// drops to defaultErrorThreshold or no larger layout remains.
func (m *RMIModel) Train(values []uint64) error {
	n := len(values)
	m.maxPos = 0
	if n > 0 {
		m.maxPos = uint32(n - 1)
	}

	if len(m.layerSizes) > 0 {
		m.trainLayers(values, m.layerSizes)
		return nil
	}

	start := 0
	def := defaultLayerSizes(n)
	for i, layout := range escalationLadder {
		if slices.Equal(layout, def) {
			start = i
			break
		}
	}
	for i := start; ; i++ {
		maxErr := m.trainLayers(values, escalationLadder[i])
		if maxErr <= defaultErrorThreshold || i == len(escalationLadder)-1 {
			return nil
		}
	}
}

// trainLayers fits one specific layout and returns the worst final-
// layer error bound observed over the training set.
func (m *RMIModel) trainLayers(values []uint64, layerSizes []uint32) uint32 {
	n := len(values)
	m.layerSizes = append([]uint32(nil), layerSizes...)
	m.layers = make([][]linearLeaf, len(m.layerSizes))

	if n == 0 {
		for li, size := range m.layerSizes {
			m.layers[li] = make([]linearLeaf, size)
		}
		return 0
	}

	// assignment[i] is the index, within the current layer, of the
	// model responsible for values[i].
	assignment := make([]uint32, n)

	var maxErr uint32
	for li, size := range m.layerSizes {
		buckets := make([][]int, size)
		for i, a := range assignment {
			buckets[a] = append(buckets[a], i)
		}

		leaves := make([]linearLeaf, size)
		last := li == len(m.layerSizes)-1
		for idx, indices := range buckets {
			leaves[idx] = fitLinear(values, indices)
			if last && len(indices) > 0 && leaves[idx].errBound() > maxErr {
				maxErr = leaves[idx].errBound()
			}
		}
		m.layers[li] = leaves

		if !last {
			nextSize := m.layerSizes[li+1]
			for i, v := range values {
				pred := leaves[assignment[i]].predict(v)
				assignment[i] = routeToLayer(pred, int64(n), nextSize)
			}
		}
	}
	return maxErr
}

// fitLinear performs a least-squares fit of position against key over
// the given training indices, recording the leaf's worst-case signed
// error.
func fitLinear(values []uint64, indices []int) linearLeaf {
	n := len(indices)
	if n == 0 {
		return linearLeaf{}
	}
	if n == 1 {
		return linearLeaf{intercept: float64(indices[0])}
	}

	var sumX, sumY, sumXY, sumX2 float64
	for _, i := range indices {
		x := float64(values[i])
		y := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	nf := float64(n)
	denom := nf*sumX2 - sumX*sumX

	var slope, intercept float64
	if math.Abs(denom) < 1e-10 {
		slope = 0
		intercept = sumY / nf
	} else {
		slope = (nf*sumXY - sumX*sumY) / denom
		intercept = (sumY - slope*sumX) / nf
	}

	leaf := linearLeaf{slope: slope, intercept: intercept}
	for _, i := range indices {
		predicted := leaf.predict(values[i])
		err := int64(i) - predicted
		if err < leaf.minErr {
			leaf.minErr = err
		}
		if err > leaf.maxErr {
			leaf.maxErr = err
		}
	}
	return leaf
}

// routeToLayer scales a position prediction over [0,n) into a model
// index over [0,layerSize), clamped to valid bounds.
func routeToLayer(predictedPos, n int64, layerSize uint32) uint32 {
	if n <= 1 || layerSize <= 1 {
		return 0
	}
	if predictedPos < 0 {
		predictedPos = 0
	}
	if predictedPos >= n {
		predictedPos = n - 1
	}
	idx := likbits.FastRange32((uint64(predictedPos)<<32/uint64(n))<<32, layerSize)
	if idx >= layerSize {
		idx = layerSize - 1
	}
	return idx
}

// InferenceBatch predicts, for each of N keys, a position in the range
// array and the error-bound radius around it. Positions are clamped to [0, maxPos].
func (m *RMIModel) InferenceBatch(keys [InferenceBatchSize]uint64, pred, errOut *[InferenceBatchSize]uint32) {
	for i, key := range keys {
		leafIdx := uint32(0)
		var leaf *linearLeaf
		for li, layer := range m.layers {
			leaf = &layer[leafIdx]
			if li == len(m.layers)-1 {
				break
			}
			routed := routeToLayer(leaf.predict(key), int64(m.maxPos)+1, m.layerSizes[li+1])
			leafIdx = routed
		}
		p := leaf.predict(key)
		if p < 0 {
			p = 0
		}
		if p > int64(m.maxPos) {
			p = int64(m.maxPos)
		}
		pred[i] = uint32(p)
		errOut[i] = leaf.errBound()
	}
}

// Store serializes the trained model to a self-contained byte blob:
// max position and layer count, then per layer its leaf count followed
// by each leaf's fixed-width fields.
func (m *RMIModel) Store() []byte {
	size := 4 + 4 // maxPos, layer count
	for _, layer := range m.layers {
		size += 4 + len(layer)*linearLeafSize
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], m.maxPos)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(m.layers)))
	off += 4
	for _, layer := range m.layers {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(layer)))
		off += 4
		for i := range layer {
			layer[i].marshal(buf[off:])
			off += linearLeafSize
		}
	}
	return buf
}

// LoadRMIModel deserializes a model blob written by Store.
func LoadRMIModel(data []byte) (*RMIModel, error) {
	if len(data) < 8 {
		return nil, likerrors.ErrCorruptedIndex
	}
	m := &RMIModel{}
	off := 0
	m.maxPos = binary.LittleEndian.Uint32(data[off:])
	off += 4
	numLayers := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if numLayers == 0 {
		return nil, likerrors.ErrCorruptedIndex
	}

	m.layers = make([][]linearLeaf, numLayers)
	m.layerSizes = make([]uint32, numLayers)
	for li := 0; li < int(numLayers); li++ {
		if off+4 > len(data) {
			return nil, likerrors.ErrCorruptedIndex
		}
		size := binary.LittleEndian.Uint32(data[off:])
		off += 4
		m.layerSizes[li] = size
		layer := make([]linearLeaf, size)
		for i := range layer {
			if off+linearLeafSize > len(data) {
				return nil, likerrors.ErrCorruptedIndex
			}
			layer[i].unmarshal(data[off:])
			off += linearLeafSize
		}
		m.layers[li] = layer
	}
	return m, nil
}
