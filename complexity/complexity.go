// Package complexity estimates, in closed form, the cost of the cheapest
// index tower a hierarchical builder could stack above a candidate layer
// of a given byte size. Drafters use this to price the "upper_loads" term
// of a candidate without actually building every continuation.
package complexity

import (
	"math"
	"time"

	"github.com/airindex-go/airindex/storageprofile"
)

// stepSize is the serialized size in bytes of a step-model anchor pair
// (KeyLength + PositionLength), the unit this estimator reasons about
// regardless of which model family the real layer ultimately uses.
const stepSize = 16

// maxLayers bounds how many layers the estimator considers stacking; with
// a 16-byte window this comfortably covers any realistic data size.
const maxLayers = 16

// Measure returns the cheapest (loads, cost) pair across layer counts 1..16
// for indexing a dataSize-byte candidate layer under profile, alongside the
// no-index baseline of downloading the whole layer.
func Measure(profile storageprofile.Profile, dataSize int) ([]int, time.Duration) {
	bestLoads := []int{dataSize}
	bestCost := storageprofile.SequentialCost(profile, bestLoads)

	for numLayers := 1; numLayers < maxLayers; numLayers++ {
		cratio := math.Pow(float64(dataSize), 1.0/float64(numLayers+1)) *
			math.Pow(float64(stepSize), float64(numLayers)/float64(numLayers+1))

		currentSize := dataSize
		for layer := 0; layer < numLayers; layer++ {
			numSteps := int(math.Ceil(float64(currentSize) / cratio))
			currentSize = numSteps * stepSize
		}

		loads := make([]int, 0, numLayers+1)
		loads = append(loads, currentSize)
		for i := 0; i < numLayers; i++ {
			loads = append(loads, int(cratio))
		}
		cost := storageprofile.SequentialCost(profile, loads)
		if bestCost > cost {
			bestLoads = loads
			if cost < bestCost {
				bestCost = cost
			}
		}
	}
	return bestLoads, bestCost
}
