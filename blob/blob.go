// Package blob defines the byte-range storage contract every backing
// medium (local filesystem, in-memory fixture, eventually object storage)
// implements, plus Rope, a zero-copy concatenation of byte slices used to
// stitch together multi-page reads into one logical contiguous view.
package blob

import "context"

// Range is a byte-offset window: [Offset, Offset+Length).
type Range struct {
	Offset int64
	Length int64
}

// End returns the exclusive end offset of r.
func (r Range) End() int64 { return r.Offset + r.Length }

// Adaptor is the byte-range contract a storage backend must satisfy.
// Implementations need not be safe for concurrent Remove/WriteAll against
// an in-flight ReadRange on the same path; callers serialize writes.
type Adaptor interface {
	ReadRange(ctx context.Context, path string, r Range) ([]byte, error)
	// ReadAll reads path's full contents, used by callers (the stash
	// index, cache warming) that need a whole file rather than a range.
	ReadAll(ctx context.Context, path string) ([]byte, error)
	WriteAll(ctx context.Context, path string, data []byte) error
	Remove(ctx context.Context, path string) error
}

// Rope is an immutable, possibly non-contiguous concatenation of byte
// slices addressed as one logical contiguous byte range. Page-range reads
// that span several cached pages are assembled into a Rope rather than
// copied eagerly, and only materialized into a single buffer when a caller
// actually needs a contiguous slice.
type Rope struct {
	segments   [][]byte
	accLengths []int
	total      int
}

// Push appends a segment to the end of the rope.
func (rp *Rope) Push(segment []byte) {
	if len(segment) == 0 {
		return
	}
	rp.total += len(segment)
	rp.segments = append(rp.segments, segment)
	rp.accLengths = append(rp.accLengths, rp.total)
}

// Len returns the rope's total length across every segment.
func (rp *Rope) Len() int { return rp.total }

// IsEmpty reports whether the rope holds no bytes.
func (rp *Rope) IsEmpty() bool { return rp.total == 0 }

// CloneWithin copies out the [start, end) sub-range, which may span
// multiple segments.
func (rp *Rope) CloneWithin(start, end int) []byte {
	length := end - start
	buf := make([]byte, 0, length)
	if length <= 0 {
		return buf
	}
	segIdx := 0
	for segIdx < len(rp.segments) && rp.accLengths[segIdx] <= start {
		segIdx++
	}
	segOffset := rp.accLengths[segIdx] - len(rp.segments[segIdx])
	for segOffset < end && len(buf) < length {
		shift := start - segOffset
		if shift < 0 {
			shift = 0
		}
		partLen := len(rp.segments[segIdx]) - shift
		if remain := length - len(buf); partLen > remain {
			partLen = remain
		}
		buf = append(buf, rp.segments[segIdx][shift:shift+partLen]...)
		segOffset += len(rp.segments[segIdx])
		segIdx++
	}
	return buf
}

// CloneAll copies out the whole rope as one contiguous buffer.
func (rp *Rope) CloneAll() []byte {
	return rp.CloneWithin(0, rp.total)
}

// CloneAllInto behaves like CloneAll but appends into dst rather than
// allocating a fresh buffer, so a pooled scratch buffer can be reused
// across reads instead of allocating one per call.
func (rp *Rope) CloneAllInto(dst []byte) []byte {
	dst = dst[:0]
	for _, seg := range rp.segments {
		dst = append(dst, seg...)
	}
	return dst
}
