// Package band implements the linear band model family: a line fit
// through two anchor points plus a fixed vertical width that bounds every
// covered point's deviation from the line.
package band

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/airindex-go/airindex/drafter"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// kpDirection is a displacement (or absolute point, when built via fromKP)
// expressed as an exact rational slope numerator/denominator pair. Slope
// comparisons cross-multiply through big.Int so they never lose precision
// the way a floating-point slope comparison would near the edges of the
// key or position space.
type kpDirection struct {
	X, Y *big.Int
}

func bigFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func fromPair(kp1, kp2 keyrank.KeyPosition) kpDirection {
	return kpDirection{
		X: new(big.Int).Sub(bigFromUint64(kp2.Key), bigFromUint64(kp1.Key)),
		Y: new(big.Int).Sub(bigFromUint64(kp2.Position), bigFromUint64(kp1.Position)),
	}
}

func fromKP(kp keyrank.KeyPosition) kpDirection {
	return kpDirection{X: bigFromUint64(kp.Key), Y: bigFromUint64(kp.Position)}
}

func (d kpDirection) subtractY(position keyrank.Position) kpDirection {
	return kpDirection{X: d.X, Y: new(big.Int).Sub(d.Y, bigFromUint64(position))}
}

// isLowerThan reports whether d's slope is strictly less than other's,
// via cross-multiplication: d.y/d.x < other.y/other.x <=> d.y*other.x < d.x*other.y.
func (d kpDirection) isLowerThan(other kpDirection) bool {
	lhs := new(big.Int).Mul(d.Y, other.X)
	rhs := new(big.Int).Mul(d.X, other.Y)
	return lhs.Cmp(rhs) < 0
}

// interpolateWith linearly interpolates the y value at key along the line
// through d and other.
func (d kpDirection) interpolateWith(other kpDirection, key keyrank.Key) *big.Int {
	if d.X.Cmp(other.X) == 0 {
		return new(big.Int).Set(d.Y)
	}
	keyBig := bigFromUint64(key)
	num := new(big.Int).Mul(new(big.Int).Sub(keyBig, d.X), new(big.Int).Sub(other.Y, d.Y))
	den := new(big.Int).Sub(other.X, d.X)
	q := new(big.Int).Quo(num, den)
	return new(big.Int).Add(d.Y, q)
}

/* Linear lower bound with max load width */

// Model is a line through two anchor points plus a fixed width: every
// covered key predicts an offset range [line(key), line(key)+Width).
type Model struct {
	kp1, kp2 kpDirection
	Width    keyrank.Position
}

// Predict implements model.Model. A band always covers every key in its
// domain (the width bounds the miss, it never excludes a key), so Predict
// never returns an error.
func (bm *Model) Predict(key keyrank.Key) (keyrank.Range, error) {
	left := bm.kp1.interpolateWith(bm.kp2, key)
	if left.Sign() < 0 {
		left = big.NewInt(0)
	}
	leftOffset := left.Uint64()
	rightOffset := leftOffset + bm.Width
	return keyrank.RangeFromBound(key, key, leftOffset, rightOffset), nil
}

type anchoredBand struct {
	band      Model
	anchorKey keyrank.Key
}

/* Linear with independently tracked over/under width */

type doubleBandModel struct {
	kp1, kp2              kpDirection
	widthUnder, widthOver keyrank.Position
}

func newDoubleBandModel(kp1, kp2 keyrank.KeyPosition) *doubleBandModel {
	return &doubleBandModel{kp1: fromKP(kp1), kp2: fromKP(kp2)}
}

func (d *doubleBandModel) update(kp keyrank.KeyPosition) {
	predictOffset := d.kp1.interpolateWith(d.kp2, kp.Key)
	deviation := new(big.Int).Sub(bigFromUint64(kp.Position), predictOffset)
	if deviation.Sign() > 0 {
		if dev := deviation.Uint64(); dev > d.widthUnder {
			d.widthUnder = dev
		}
	} else {
		neg := new(big.Int).Neg(deviation)
		if dev := neg.Uint64(); dev > d.widthOver {
			d.widthOver = dev
		}
	}
}

func (d *doubleBandModel) width() keyrank.Position { return d.widthUnder + d.widthOver }

func (d *doubleBandModel) intoBand() Model {
	return Model{
		kp1:   d.kp1.subtractY(d.widthOver),
		kp2:   d.kp2.subtractY(d.widthOver),
		Width: d.widthUnder + d.widthOver,
	}
}

/* Convex hull capturing all given points */

func isConvex(kp1, kp2, kp3 keyrank.KeyPosition) bool {
	return fromPair(kp1, kp2).isLowerThan(fromPair(kp2, kp3))
}

func isConcave(kp1, kp2, kp3 keyrank.KeyPosition) bool {
	return fromPair(kp2, kp3).isLowerThan(fromPair(kp1, kp2))
}

// findCriticalLower binary searches for the index where the chord slope
// crosses kpd, assuming slopes are increasing along kps.
func findCriticalLower(kpd kpDirection, kps []keyrank.KeyPosition) int {
	n := len(kps)
	if n == 1 {
		return 0
	}
	mid := (n - 1) / 2
	cur := fromPair(kps[mid], kps[mid+1])
	if cur.isLowerThan(kpd) {
		return findCriticalLower(kpd, kps[mid+1:]) + mid + 1
	}
	return findCriticalLower(kpd, kps[:mid+1])
}

// findCriticalUpper mirrors findCriticalLower for slopes decreasing along kps.
func findCriticalUpper(kpd kpDirection, kps []keyrank.KeyPosition) int {
	n := len(kps)
	if n == 1 {
		return 0
	}
	mid := (n - 1) / 2
	cur := fromPair(kps[mid], kps[mid+1])
	if kpd.isLowerThan(cur) {
		return findCriticalUpper(kpd, kps[mid+1:]) + mid + 1
	}
	return findCriticalUpper(kpd, kps[:mid+1])
}

// pickOneBandFrom builds a band from the lower hull's endpoints, then widens
// it just enough to also cover the critical upper-hull point.
func pickOneBandFrom(lowerKps, upperKps []keyrank.KeyPosition) *Model {
	if len(lowerKps) <= 1 || len(upperKps) == 0 {
		return nil
	}
	db := newDoubleBandModel(lowerKps[0], lowerKps[len(lowerKps)-1])
	kpd := fromPair(lowerKps[0], lowerKps[len(lowerKps)-1])
	lowerCrit := findCriticalLower(kpd, lowerKps)
	upperCrit := findCriticalUpper(kpd, upperKps)
	db.update(lowerKps[lowerCrit])
	db.update(upperKps[upperCrit])
	if lowerCrit < len(lowerKps)-1 {
		db.update(lowerKps[lowerCrit+1])
	}
	if upperCrit < len(upperKps)-1 {
		db.update(upperKps[upperCrit+1])
	}
	band := db.intoBand()
	return &band
}

// pickBestBandFrom tries every hull edge as a candidate band and keeps the
// narrowest.
func pickBestBandFrom(lowerKps, upperKps []keyrank.KeyPosition) *Model {
	if len(lowerKps) == 0 || len(upperKps) == 0 {
		return nil
	}
	var best *doubleBandModel

	for idx := 0; idx < len(lowerKps)-1; idx++ {
		db := newDoubleBandModel(lowerKps[idx], lowerKps[idx+1])
		kpd := fromPair(lowerKps[idx], lowerKps[idx+1])
		upperCrit := findCriticalUpper(kpd, upperKps)
		db.update(lowerKps[idx])
		db.update(upperKps[upperCrit])
		db.update(lowerKps[idx+1])
		if upperCrit < len(upperKps)-1 {
			db.update(upperKps[upperCrit+1])
		}
		if best == nil || db.width() < best.width() {
			best = db
		}
	}

	for idx := 0; idx < len(upperKps)-1; idx++ {
		db := newDoubleBandModel(upperKps[idx], upperKps[idx+1])
		kpd := fromPair(upperKps[idx], upperKps[idx+1])
		lowerCrit := findCriticalLower(kpd, lowerKps)
		db.update(lowerKps[lowerCrit])
		db.update(upperKps[idx])
		if lowerCrit < len(lowerKps)-1 {
			db.update(lowerKps[lowerCrit+1])
		}
		db.update(upperKps[idx+1])
		if best == nil || db.width() < best.width() {
			best = db
		}
	}

	if best == nil {
		return nil
	}
	band := best.intoBand()
	return &band
}

type convexHull struct {
	lowerKps []keyrank.KeyPosition
	upperKps []keyrank.KeyPosition
}

func newConvexHull() *convexHull { return &convexHull{} }

func (h *convexHull) isEmpty() bool { return len(h.lowerKps) == 0 && len(h.upperKps) == 0 }

func (h *convexHull) makeBand() *anchoredBand {
	if len(h.lowerKps) == 0 {
		return nil
	}
	band := pickOneBandFrom(h.lowerKps, h.upperKps)
	if band == nil {
		return nil
	}
	return &anchoredBand{band: *band, anchorKey: h.lowerKps[0].Key}
}

func (h *convexHull) makeBestBand() *anchoredBand {
	if len(h.lowerKps) == 0 {
		return nil
	}
	band := pickBestBandFrom(h.lowerKps, h.upperKps)
	if band == nil {
		return nil
	}
	return &anchoredBand{band: *band, anchorKey: h.lowerKps[0].Key}
}

func (h *convexHull) lowestOffset() keyrank.Position { return h.lowerKps[0].Position }

func (h *convexHull) pushRightLower(kp keyrank.KeyPosition) {
	for len(h.lowerKps) >= 2 {
		n := len(h.lowerKps)
		if !isConvex(h.lowerKps[n-2], h.lowerKps[n-1], kp) {
			h.lowerKps = h.lowerKps[:n-1]
		} else {
			break
		}
	}
	h.lowerKps = append(h.lowerKps, kp)
}

func (h *convexHull) pushRightUpper(kp keyrank.KeyPosition) {
	for len(h.upperKps) >= 2 {
		n := len(h.upperKps)
		if !isConcave(h.upperKps[n-2], h.upperKps[n-1], kp) {
			h.upperKps = h.upperKps[:n-1]
		} else {
			break
		}
	}
	h.upperKps = append(h.upperKps, kp)
}

/* Serialization: kp1.x, kp1.y, kp2.x, kp2.y, width, each 8 bytes big-endian */

const sketchSize = 5 * keyrank.PositionLength

// Recon sketches and reconstructs band model artifacts and tracks one
// layer's load distribution.
type Recon struct {
	load model.LoadDistribution
}

// NewRecon returns an empty Recon.
func NewRecon() *Recon { return &Recon{} }

func (r *Recon) sketch(bm *Model, numSamples int) ([]byte, error) {
	r.load.Add(float64(bm.Width), uint64(numSamples))

	buf := make([]byte, 0, sketchSize)
	var b8 [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(b8[:], v)
		buf = append(buf, b8[:]...)
	}
	put(bm.kp1.X.Uint64())
	put(uint64(bm.kp1.Y.Int64()))
	put(bm.kp2.X.Uint64())
	put(uint64(bm.kp2.Y.Int64()))
	put(uint64(bm.Width))
	return buf, nil
}

func (r *Recon) reconstructRaw(buffer []byte) (*Model, error) {
	if len(buffer) != sketchSize {
		return nil, fmt.Errorf("band: unexpected buffer size %d for a band model", len(buffer))
	}
	x1 := binary.BigEndian.Uint64(buffer[0:8])
	y1 := int64(binary.BigEndian.Uint64(buffer[8:16]))
	x2 := binary.BigEndian.Uint64(buffer[16:24])
	y2 := int64(binary.BigEndian.Uint64(buffer[24:32]))
	width := binary.BigEndian.Uint64(buffer[32:40])
	return &Model{
		kp1:   kpDirection{X: bigFromUint64(x1), Y: big.NewInt(y1)},
		kp2:   kpDirection{X: bigFromUint64(x2), Y: big.NewInt(y2)},
		Width: width,
	}, nil
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
		panic(fmt.Sprintf("band: cannot combine Recon with %T", other))
	}
	r.load.Extend(o.load)
}

/* Builder: grows the convex hull, emitting the last feasible band whenever
   the hull's width would exceed max_load */

// GreedyBuilder maintains a running convex hull and ships the last band
// that still fit under maxLoad whenever the next point would overflow it.
type GreedyBuilder struct {
	maxLoad        keyrank.Position
	serde          *Recon
	hull           *convexHull
	feasibleBand   *anchoredBand
	currentSamples int
}

// NewGreedyBuilder constructs a GreedyBuilder bounded by maxLoad.
func NewGreedyBuilder(maxLoad keyrank.Position) *GreedyBuilder {
	return &GreedyBuilder{maxLoad: maxLoad, serde: NewRecon(), hull: newConvexHull()}
}

func pushToHull(h *convexHull, kpr keyrank.Range) {
	h.pushRightLower(keyrank.KeyPosition{Key: kpr.KeyL, Position: kpr.Offset})
	h.pushRightLower(keyrank.KeyPosition{Key: kpr.KeyR, Position: kpr.Offset})
	h.pushRightLower(keyrank.KeyPosition{Key: kpr.KeyR, Position: kpr.Offset + kpr.Length})
	h.pushRightUpper(keyrank.KeyPosition{Key: kpr.KeyL, Position: kpr.Offset})
	h.pushRightUpper(keyrank.KeyPosition{Key: kpr.KeyL, Position: kpr.Offset + kpr.Length})
	h.pushRightUpper(keyrank.KeyPosition{Key: kpr.KeyR, Position: kpr.Offset + kpr.Length})
}

func (b *GreedyBuilder) startHullWith(kpr keyrank.Range) {
	b.hull = newConvexHull()
	pushToHull(b.hull, kpr)
	nb := b.hull.makeBand()
	if nb == nil {
		panic("band: convex hull should produce a band after adding a kpr")
	}
	b.feasibleBand = nb
	b.currentSamples = 1
}

func (b *GreedyBuilder) continueHullWith(band *anchoredBand) {
	b.feasibleBand = band
	b.currentSamples++
}

func (b *GreedyBuilder) consumeProduceFeasible(kpr keyrank.Range) (*anchoredBand, int) {
	pushToHull(b.hull, kpr)
	currentBand := b.hull.makeBand()
	if currentBand == nil {
		panic("band: convex hull should produce a band after adding a kpr")
	}

	if currentBand.band.Width > b.maxLoad {
		if b.feasibleBand != nil {
			feasible := b.feasibleBand
			numSamples := b.currentSamples
			b.startHullWith(kpr)
			return feasible, numSamples
		}
		// the only kpr so far is too large to fit: keep growing, don't ship yet
		b.continueHullWith(currentBand)
		return nil, 0
	}
	b.continueHullWith(currentBand)
	return nil, 0
}

func (b *GreedyBuilder) generateSegment(band *anchoredBand, numSamples int) (*model.KeyBuffer, error) {
	buf, err := b.serde.sketch(&band.band, numSamples)
	if err != nil {
		return nil, err
	}
	return &model.KeyBuffer{Key: band.anchorKey, Buffer: buf}, nil
}

// Consume implements model.Builder.
func (b *GreedyBuilder) Consume(kpr keyrank.Range) (*model.KeyBuffer, error) {
	band, numSamples := b.consumeProduceFeasible(kpr)
	if band == nil {
		return nil, nil
	}
	return b.generateSegment(band, numSamples)
}

// Finalize implements model.Builder.
func (b *GreedyBuilder) Finalize() (model.BuilderFinalReport, error) {
	last := b.hull.makeBand()
	var kb *model.KeyBuffer
	if last != nil {
		var err error
		kb, err = b.generateSegment(last, b.currentSamples)
		if err != nil {
			return model.BuilderFinalReport{}, err
		}
	}
	return model.BuilderFinalReport{MaybeKeyBuffer: kb, Serde: b.serde}, nil
}

func greedyDrafter(maxLoad keyrank.Position) model.Drafter {
	return drafter.WrapBuilder(func() model.Builder { return NewGreedyBuilder(maxLoad) })
}

/* Builder: bounds the hull's total offset range instead of its width */

// EqualBuilder closes its convex hull once the covered byte range exceeds
// maxRange, regardless of the resulting band's width.
type EqualBuilder struct {
	maxRange       keyrank.Position
	serde          *Recon
	hull           *convexHull
	currentSamples int
}

// NewEqualBuilder constructs an EqualBuilder bounded by maxRange.
func NewEqualBuilder(maxRange keyrank.Position) *EqualBuilder {
	return &EqualBuilder{maxRange: maxRange, serde: NewRecon(), hull: newConvexHull()}
}

func (b *EqualBuilder) pushToHull(kpr keyrank.Range) {
	pushToHull(b.hull, kpr)
	b.currentSamples++
}

func (b *EqualBuilder) consumeProduceFeasible(kpr keyrank.Range) (*anchoredBand, int) {
	if b.hull.isEmpty() || kpr.Offset+kpr.Length-b.hull.lowestOffset() <= b.maxRange {
		b.pushToHull(kpr)
		return nil, 0
	}
	band := b.hull.makeBestBand()
	samples := b.currentSamples
	b.hull = newConvexHull()
	b.currentSamples = 0
	b.pushToHull(kpr)
	return band, samples
}

func (b *EqualBuilder) generateSegment(band *anchoredBand, numSamples int) (*model.KeyBuffer, error) {
	buf, err := b.serde.sketch(&band.band, numSamples)
	if err != nil {
		return nil, err
	}
	return &model.KeyBuffer{Key: band.anchorKey, Buffer: buf}, nil
}

// Consume implements model.Builder.
func (b *EqualBuilder) Consume(kpr keyrank.Range) (*model.KeyBuffer, error) {
	band, numSamples := b.consumeProduceFeasible(kpr)
	if band == nil {
		return nil, nil
	}
	return b.generateSegment(band, numSamples)
}

// Finalize implements model.Builder.
func (b *EqualBuilder) Finalize() (model.BuilderFinalReport, error) {
	last := b.hull.makeBestBand()
	var kb *model.KeyBuffer
	if last != nil {
		var err error
		kb, err = b.generateSegment(last, b.currentSamples)
		if err != nil {
			return model.BuilderFinalReport{}, err
		}
	}
	return model.BuilderFinalReport{MaybeKeyBuffer: kb, Serde: b.serde}, nil
}

func equalDrafter(maxRange keyrank.Position) model.Drafter {
	return drafter.WrapBuilder(func() model.Builder { return NewEqualBuilder(maxRange) })
}

// GreedyExponentiationSweep builds a MultipleDrafter offering GreedyBuilder
// drafters for an exponential sweep of max_load.
func GreedyExponentiationSweep(lowLoad, highLoad keyrank.Position, exponent float64) *drafter.MultipleDrafter {
	var drafters []model.Drafter
	current := lowLoad
	for current < highLoad {
		drafters = append(drafters, greedyDrafter(current))
		current = keyrank.Position(float64(current) * exponent)
	}
	drafters = append(drafters, greedyDrafter(highLoad))
	return drafter.NewMultipleDrafter(drafters...)
}

// EqualExponentiationSweep builds a MultipleDrafter offering EqualBuilder
// drafters for an exponential sweep of max_range.
func EqualExponentiationSweep(lowLoad, highLoad keyrank.Position, exponent float64) *drafter.MultipleDrafter {
	var drafters []model.Drafter
	current := lowLoad
	for current < highLoad {
		drafters = append(drafters, equalDrafter(current))
		current = keyrank.Position(float64(current) * exponent)
	}
	drafters = append(drafters, equalDrafter(highLoad))
	return drafter.NewMultipleDrafter(drafters...)
}
