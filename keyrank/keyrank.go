// Package keyrank holds the key-position data model shared by every layer
// of the index: the sorted (key, byte-offset) pairs produced by a scan of
// the base array or of a layer below, and the ranged view over them that
// models consume while drafting.
package keyrank

import "fmt"

// Key is the 64-bit unsigned integer type every lookup key is compared as.
type Key = uint64

// Position is a byte offset into a blob.
type Position = uint64

const (
	// KeyLength is the serialized width of a Key, in bytes.
	KeyLength = 8
	// PositionLength is the serialized width of a Position, in bytes.
	PositionLength = 8
)

// KeyPosition is a single (key, byte-offset) pair.
type KeyPosition struct {
	Key      Key
	Position Position
}

// Range is a contiguous byte window of the layer below covering every key
// in [KeyL, KeyR].
type Range struct {
	KeyL, KeyR     Key
	Offset, Length Position
}

// RangeFromBound builds a Range from a left and right byte offset, clamping
// the length to zero rather than underflowing if rightOffset < leftOffset.
func RangeFromBound(keyL, keyR Key, leftOffset, rightOffset Position) Range {
	var length Position
	if rightOffset > leftOffset {
		length = rightOffset - leftOffset
	}
	return Range{KeyL: keyL, KeyR: keyR, Offset: leftOffset, Length: length}
}

// Interval is a closed key range used for coverage bookkeeping.
type Interval struct {
	LeftKey, RightKey Key
}

// GreaterThan reports whether key falls entirely below the interval.
func (iv Interval) GreaterThan(key Key) bool { return key < iv.LeftKey }

// LessThan reports whether key falls entirely above the interval.
func (iv Interval) LessThan(key Key) bool { return iv.RightKey < key }

// Cover reports whether key falls within [LeftKey, RightKey].
func (iv Interval) Cover(key Key) bool { return iv.LeftKey <= key && key <= iv.RightKey }

// Intersect returns the intersection of iv and other. A criss-crossed
// result (LeftKey > RightKey) represents an empty interval.
func (iv Interval) Intersect(other Interval) Interval {
	return Interval{
		LeftKey:  maxKey(iv.LeftKey, other.LeftKey),
		RightKey: minKey(iv.RightKey, other.RightKey),
	}
}

func maxKey(a, b Key) Key {
	if a > b {
		return a
	}
	return b
}

func minKey(a, b Key) Key {
	if a < b {
		return a
	}
	return b
}

// Collection is a monotonically non-decreasing sequence of key-positions
// produced by a single scan, plus the byte range it brackets.
type Collection struct {
	kps           []KeyPosition
	endKey        Key
	startPosition Position
	endPosition   Position
}

// New returns an empty Collection.
func New() *Collection {
	return &Collection{}
}

// Push appends a key-position pair. Keys must arrive non-decreasing;
// callers performing the base-array scan are responsible for collapsing
// consecutive duplicates before calling Push.
func (c *Collection) Push(key Key, position Position) {
	if key > c.endKey {
		c.endKey = key
	}
	c.kps = append(c.kps, KeyPosition{Key: key, Position: position})
}

// SetPositionRange records the byte span this collection brackets.
func (c *Collection) SetPositionRange(start, end Position) {
	c.startPosition = start
	c.endPosition = end
}

// Len returns the number of key-position pairs.
func (c *Collection) Len() int { return len(c.kps) }

// IsEmpty reports whether the collection has no pairs.
func (c *Collection) IsEmpty() bool { return len(c.kps) == 0 }

// TotalBytes returns the size of the bracketed byte span.
func (c *Collection) TotalBytes() Position { return c.endPosition - c.startPosition }

// WholeRange returns the bracketed (start, end) byte span.
func (c *Collection) WholeRange() (Position, Position) { return c.startPosition, c.endPosition }

// At returns the key-position pair at idx.
func (c *Collection) At(idx int) KeyPosition { return c.kps[idx] }

// PositionFor scans for the position of key, returning false if absent.
func (c *Collection) PositionFor(key Key) (Position, bool) {
	for _, kp := range c.kps {
		if kp.Key == key {
			return kp.Position, true
		}
	}
	return 0, false
}

// RangeAt returns the Range spanning kps[idx] up to the next pair, or, for
// the last pair, up to the collection's bracketed end.
func (c *Collection) RangeAt(idx int) (Range, error) {
	n := c.Len()
	if idx < 0 || idx >= n {
		return Range{}, fmt.Errorf("keyrank: index %d out of range [0,%d)", idx, n)
	}
	if idx < n-1 {
		return Range{
			KeyL:   c.kps[idx].Key,
			KeyR:   c.kps[idx+1].Key,
			Offset: c.kps[idx].Position,
			Length: c.kps[idx+1].Position - c.kps[idx].Position,
		}, nil
	}
	return Range{
		KeyL:   c.kps[idx].Key,
		KeyR:   c.endKey,
		Offset: c.kps[idx].Position,
		Length: c.endPosition - c.kps[idx].Position,
	}, nil
}

// Iter returns the underlying key-position pairs in order. The returned
// slice must not be mutated.
func (c *Collection) Iter() []KeyPosition { return c.kps }

// RangeIter returns a lazy iterator over every Range in the collection.
func (c *Collection) RangeIter() *RangeIterator {
	return c.RangeSliceIter(0, c.Len())
}

// RangeSliceIter returns a lazy iterator over Range(s) for kps[start:end).
// end may exceed Len(); the iterator simply stops early.
func (c *Collection) RangeSliceIter(start, end int) *RangeIterator {
	return &RangeIterator{kps: c, current: start, upper: end}
}

// ChunkIter splits the collection into chunkSize-sized range iterators, the
// mechanism the drafter uses to shard a large collection for parallel
// per-chunk builder sweeps.
func (c *Collection) ChunkIter(chunkSize int) []*RangeIterator {
	n := c.Len()
	numChunks := n / chunkSize
	if n%chunkSize != 0 {
		numChunks++
	}
	iters := make([]*RangeIterator, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		iters = append(iters, c.RangeSliceIter(i*chunkSize, (i+1)*chunkSize))
	}
	return iters
}

// RangeIterator lazily walks Range(s) of a Collection.
type RangeIterator struct {
	kps     *Collection
	current int
	upper   int
}

// Next returns the next Range, or false once exhausted.
func (it *RangeIterator) Next() (Range, bool) {
	if it.current >= it.upper {
		return Range{}, false
	}
	kr, err := it.kps.RangeAt(it.current)
	if err != nil {
		return Range{}, false
	}
	it.current++
	return kr, true
}
