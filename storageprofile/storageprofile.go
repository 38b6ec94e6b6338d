// Package storageprofile models the cost of byte-range reads against a
// backing blob, the same analytical cost function the drafter and
// hierarchical builder use to pick between candidate layouts.
package storageprofile

import "time"

// Profile abstracts read latency. Cost must be monotonically
// non-decreasing in n, additive over a sequence of reads (see
// SequentialCost), pure, and safe for concurrent use — drafting fans out
// across many goroutines sharing one Profile.
type Profile interface {
	// Cost returns the time to read n bytes in a single request.
	Cost(n int) time.Duration
}

// SequentialCost sums Cost(n) across a vector of read sizes, the additive
// combination used for every Profile.
func SequentialCost(p Profile, sizes []int) time.Duration {
	var total time.Duration
	for _, n := range sizes {
		total += p.Cost(n)
	}
	return total
}

// Constant is a fixed per-request latency independent of read size.
type Constant struct {
	Latency time.Duration
}

// Cost implements Profile.
func (c Constant) Cost(n int) time.Duration { return c.Latency }

// Bandwidth is a linear bytes/time cost with no fixed latency term.
type Bandwidth struct {
	// NanosPerByte is nanoseconds charged per byte transferred.
	NanosPerByte float64
}

// FromMbps builds a Bandwidth profile from a megabytes-per-second figure
// (1 MB/s = 1e6 bytes/s), via a `1e3 / mbps` nanoseconds-per-byte conversion.
func FromMbps(mbps float64) Bandwidth {
	return Bandwidth{NanosPerByte: 1e3 / mbps}
}

// Cost implements Profile.
func (b Bandwidth) Cost(n int) time.Duration {
	return time.Duration(float64(n) * b.NanosPerByte)
}

// Affine combines a constant latency with a linear bandwidth term:
// cost(n) = Latency + n/Bandwidth.
type Affine struct {
	Latency   time.Duration
	Bandwidth Bandwidth
}

// NewAffine builds an Affine profile from a latency and a megabytes-per-second
// bandwidth figure.
func NewAffine(latency time.Duration, mbps float64) Affine {
	return Affine{Latency: latency, Bandwidth: FromMbps(mbps)}
}

// Cost implements Profile.
func (a Affine) Cost(n int) time.Duration {
	return a.Latency + a.Bandwidth.Cost(n)
}

// Congested wraps a Profile and multiplies the cost of every read by a
// discount factor. It does not distinguish reads issued in the same round
// trip from reads issued alone: each Cost call is discounted the same way.
type Congested struct {
	Profile  Profile
	Discount float64 // in (0, 1]; 1 means no discount
}

// Cost implements Profile, applying the discount to the wrapped profile's cost.
func (c Congested) Cost(n int) time.Duration {
	base := c.Profile.Cost(n)
	return time.Duration(float64(base) * c.Discount)
}
