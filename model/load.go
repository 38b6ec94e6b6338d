package model

import "math"

// numBuckets is the number of logarithmic buckets in a LoadDistribution
// histogram; bucket 0 counts loads <= 1 and bucket i > 0 counts loads in
// (2^(i-1), 2^i], with the last bucket acting as an overflow capturing the
// observed max.
const numBuckets = 32

// LoadDistribution is a logarithmic histogram of per-key byte loads for one
// layer, supporting point insertion with multiplicity, histogram merge, and
// approximate percentile/average queries.
type LoadDistribution struct {
	loadCounts  [numBuckets]uint64
	totalCounts uint64
	maxLoad     int
}

// ExactLoad returns a LoadDistribution representing a single deterministic
// load value, useful for leaf indexes whose load is known exactly.
func ExactLoad(load int) LoadDistribution {
	var ld LoadDistribution
	ld.Add(float64(load), 1)
	return ld
}

// ExactLoads maps ExactLoad over a slice of loads.
func ExactLoads(loads []int) []LoadDistribution {
	out := make([]LoadDistribution, len(loads))
	for i, l := range loads {
		out[i] = ExactLoad(l)
	}
	return out
}

// Add records count occurrences of load.
func (ld *LoadDistribution) Add(load float64, count uint64) {
	bracket := 0
	if load > 1.0 {
		bracket = int(math.Log2(load-1.0)) + 1
		if bracket > numBuckets-1 {
			bracket = numBuckets - 1
		}
	}
	ld.loadCounts[bracket] += count
	ld.totalCounts += count
	if int(load) > ld.maxLoad {
		ld.maxLoad = int(load)
	}
}

// Extend merges other's histogram into ld in place.
func (ld *LoadDistribution) Extend(other LoadDistribution) {
	for i := range ld.loadCounts {
		ld.loadCounts[i] += other.loadCounts[i]
	}
	ld.totalCounts += other.totalCounts
	if other.maxLoad > ld.maxLoad {
		ld.maxLoad = other.maxLoad
	}
}

// Average returns the approximate mean load, attributing each non-overflow
// bucket its upper bound 2^idx and the overflow bucket the exact max.
func (ld LoadDistribution) Average() float64 {
	if ld.totalCounts == 0 {
		return 0
	}
	var avg float64
	mul := 1.0
	for i := 0; i < numBuckets-1; i++ {
		avg += mul * float64(ld.loadCounts[i]) / float64(ld.totalCounts)
		mul *= 2.0
	}
	avg += float64(ld.maxLoad) * float64(ld.loadCounts[numBuckets-1]) / float64(ld.totalCounts)
	return avg
}

// Percentile returns the smallest bucket bound whose cumulative mass
// reaches p (0-100]. A distribution holding a single count (as ExactLoad
// builds) always returns its max, matching the degenerate case where a
// percentile query over one point is exact by definition.
func (ld LoadDistribution) Percentile(p float64) int {
	if p < 0 || p > 100 {
		panic("model: percentile out of range [0,100]")
	}
	if ld.totalCounts == 1 {
		return ld.maxLoad
	}
	var accMass uint64
	mul := 1
	for i := 0; i < numBuckets-1; i++ {
		accMass += ld.loadCounts[i]
		if float64(accMass)/float64(ld.totalCounts)*100.0 >= p {
			return mul
		}
		mul *= 2
	}
	return ld.maxLoad
}

// Max returns the exact running maximum load observed.
func (ld LoadDistribution) Max() int { return ld.maxLoad }
