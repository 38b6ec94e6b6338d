// Package step implements the piecewise step model family: an ordered
// anchor table with a bounded maximum byte load per segment.
package step

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/drafter"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// anchorLength is the serialized size of one (key, position) anchor:
// KeyLength + PositionLength big-endian bytes.
const anchorLength = keyrank.KeyLength + keyrank.PositionLength

// Model is an ordered list of up to bundleSize anchor points with
// non-decreasing keys. Prediction finds the anchor pair straddling the
// lookup key.
type Model struct {
	Anchors []keyrank.KeyPosition
}

func newModel() *Model { return &Model{} }

func (m *Model) push(kp keyrank.KeyPosition) { m.Anchors = append(m.Anchors, kp) }

func (m *Model) pushKPR(kpr keyrank.Range) {
	m.Anchors = append(m.Anchors, keyrank.KeyPosition{Key: kpr.KeyL, Position: kpr.Offset})
}

func (m *Model) pushKPRClosing(kpr keyrank.Range) {
	m.Anchors = append(m.Anchors, keyrank.KeyPosition{Key: math.MaxUint64, Position: kpr.Offset + kpr.Length})
}

func (m *Model) len() int        { return len(m.Anchors) }
func (m *Model) isEmpty() bool    { return len(m.Anchors) == 0 }
func (m *Model) leftAnchor() (keyrank.KeyPosition, bool) {
	if m.isEmpty() {
		return keyrank.KeyPosition{}, false
	}
	return m.Anchors[0], true
}

// loadAt returns the byte span covered by anchors[idx:idx+1].
func (m *Model) loadAt(idx int) keyrank.Position {
	return m.Anchors[idx+1].Position - m.Anchors[idx].Position
}

// Predict implements model.Model.
func (m *Model) Predict(key keyrank.Key) (keyrank.Range, error) {
	for i := 0; i+1 < len(m.Anchors); i++ {
		left, right := m.Anchors[i], m.Anchors[i+1]
		if left.Key <= key && key < right.Key {
			return keyrank.RangeFromBound(key, key, left.Position, right.Position), nil
		}
	}
	return keyrank.Range{}, fmt.Errorf("step model does not cover key %d: %w", key, aerrors.ErrOutOfCoverage)
}

// Recon sketches and reconstructs step model artifacts and tracks one
// layer's load distribution.
type Recon struct {
	load model.LoadDistribution
}

// NewRecon returns an empty Recon.
func NewRecon() *Recon { return &Recon{} }

// sketch serializes stm into a fixed bundleSize*anchorLength buffer,
// padding with the last anchor repeated so every submodel of a bundle
// serializes to the same byte size (a requirement for using an ArrayStore).
func (r *Recon) sketch(stm *Model, bundleSize int, numSamples []int) ([]byte, error) {
	if len(numSamples) != len(stm.Anchors)-1 {
		return nil, fmt.Errorf("step: num_samples length %d does not match anchors-1 %d", len(numSamples), len(stm.Anchors)-1)
	}
	for idx, samples := range numSamples {
		r.load.Add(float64(stm.loadAt(idx)), uint64(samples))
	}

	buf := make([]byte, 0, bundleSize*anchorLength)
	writeAnchor := func(kp keyrank.KeyPosition) {
		var kb [keyrank.KeyLength]byte
		binary.BigEndian.PutUint64(kb[:], kp.Key)
		buf = append(buf, kb[:]...)
		var pb [keyrank.PositionLength]byte
		binary.BigEndian.PutUint64(pb[:], kp.Position)
		buf = append(buf, pb[:]...)
	}
	for _, anchor := range stm.Anchors {
		writeAnchor(anchor)
	}
	fillin := stm.Anchors[len(stm.Anchors)-1]
	for i := len(stm.Anchors); i < bundleSize; i++ {
		writeAnchor(fillin)
	}
	return buf, nil
}

func (r *Recon) reconstructRaw(buffer []byte) (*Model, error) {
	if len(buffer)%anchorLength != 0 {
		return nil, fmt.Errorf("step: unexpected buffer size %d for a step model", len(buffer))
	}
	stm := newModel()
	for idx := 0; idx < len(buffer)/anchorLength; idx++ {
		off := idx * anchorLength
		key := binary.BigEndian.Uint64(buffer[off : off+keyrank.KeyLength])
		pos := binary.BigEndian.Uint64(buffer[off+keyrank.KeyLength : off+anchorLength])
		stm.push(keyrank.KeyPosition{Key: key, Position: pos})
	}
	return stm, nil
}

// Reconstruct implements model.Recon.
func (r *Recon) Reconstruct(buffer []byte) (model.Model, error) {
	return r.reconstructRaw(buffer)
}

// GetLoad implements model.Recon.
func (r *Recon) GetLoad() []model.LoadDistribution {
	return []model.LoadDistribution{r.load}
}

// CombineWith implements model.Recon.
func (r *Recon) CombineWith(other model.Recon) {
	o, ok := other.(*Recon)
	if !ok {
		panic(fmt.Sprintf("step: cannot combine Recon with %T", other))
	}
	r.load.Extend(o.load)
}

// GreedyBuilder incrementally emits step submodels bounded by max_load
// bytes per anchor-to-anchor span and bundleSize anchors per submodel.
type GreedyBuilder struct {
	maxLoad     keyrank.Position
	bundleSize  int
	serde       *Recon
	stm         *Model
	numSamples  []int
	curKPR      *keyrank.Range
}

// NewGreedyBuilder constructs a GreedyBuilder. bundleSize must be > 2: a
// submodel needs at least two anchors to bound one segment.
func NewGreedyBuilder(maxLoad keyrank.Position, bundleSize int) *GreedyBuilder {
	if bundleSize <= 2 {
		panic("step: each submodel requires at least two anchors")
	}
	return &GreedyBuilder{
		maxLoad:    maxLoad,
		bundleSize: bundleSize,
		serde:      NewRecon(),
		stm:        newModel(),
	}
}

func (b *GreedyBuilder) generateSegment() (*model.KeyBuffer, error) {
	var result *model.KeyBuffer
	if left, ok := b.stm.leftAnchor(); ok {
		buf, err := b.serde.sketch(b.stm, b.bundleSize, b.numSamples)
		if err != nil {
			return nil, err
		}
		result = &model.KeyBuffer{Key: left.Key, Buffer: buf}
	}
	b.stm = newModel()
	if b.curKPR != nil {
		b.numSamples = []int{1}
	} else {
		b.numSamples = nil
	}
	return result, nil
}

// Consume implements model.Builder.
func (b *GreedyBuilder) Consume(kpr keyrank.Range) (*model.KeyBuffer, error) {
	switch {
	case b.curKPR == nil:
		cur := kpr
		b.curKPR = &cur
		b.numSamples = append(b.numSamples, 1)
	default:
		if b.curKPR.Offset+b.maxLoad >= kpr.Offset+kpr.Length {
			b.curKPR.KeyR = kpr.KeyR
			b.curKPR.Length = kpr.Offset + kpr.Length - b.curKPR.Offset
			if len(b.numSamples) > 0 {
				b.numSamples[len(b.numSamples)-1]++
			}
		} else {
			b.stm.pushKPR(*b.curKPR)
			cur := kpr
			b.curKPR = &cur
			b.numSamples = append(b.numSamples, 1)
		}
	}

	if b.stm.len() == b.bundleSize-1 {
		b.stm.pushKPR(*b.curKPR)
		b.numSamples = b.numSamples[:len(b.numSamples)-1]
		return b.generateSegment()
	}
	return nil, nil
}

// Finalize implements model.Builder.
func (b *GreedyBuilder) Finalize() (model.BuilderFinalReport, error) {
	if b.curKPR != nil {
		b.stm.pushKPR(*b.curKPR)
		b.stm.pushKPRClosing(*b.curKPR)
	}
	last, err := b.generateSegment()
	if err != nil {
		return model.BuilderFinalReport{}, err
	}
	return model.BuilderFinalReport{MaybeKeyBuffer: last, Serde: b.serde}, nil
}

func greedyDrafter(maxLoad keyrank.Position, bundleSize int) model.Drafter {
	return drafter.WrapBuilder(func() model.Builder {
		return NewGreedyBuilder(maxLoad, bundleSize)
	})
}

// ExponentiationSweep builds a MultipleDrafter offering step GreedyBuilder
// drafters for an exponential sweep of max_load from lowError to highError,
// scaled by exponent at each step. This is the preset budget sweep the
// hierarchical builder fans out across at each layer.
func ExponentiationSweep(lowError, highError keyrank.Position, exponent float64, bundleSize int) *drafter.MultipleDrafter {
	var drafters []model.Drafter
	current := lowError
	for current < highError {
		drafters = append(drafters, greedyDrafter(current, bundleSize))
		current = keyrank.Position(float64(current) * exponent)
	}
	drafters = append(drafters, greedyDrafter(highError, bundleSize))
	return drafter.NewMultipleDrafter(drafters...)
}
