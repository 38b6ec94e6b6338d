package index

import (
	"context"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// NaiveIndex predicts the whole span of the layer below it for every key,
// doing no modeling at all. It is the index a hierarchical builder falls
// back to when nothing cheaper covers its cost budget, and the terminal
// layer of any tower (there is always a layer with nothing below it to
// narrow further).
type NaiveIndex struct {
	StartPosition keyrank.Position
	EndPosition   keyrank.Position
}

// BuildNaiveIndex returns a NaiveIndex spanning kps's whole bracketed range.
func BuildNaiveIndex(kps *keyrank.Collection) NaiveIndex {
	start, end := kps.WholeRange()
	return NaiveIndex{StartPosition: start, EndPosition: end}
}

// Predict implements Index: every key predicts the whole span, since a
// NaiveIndex carries no per-key model.
func (ni NaiveIndex) Predict(_ context.Context, key keyrank.Key) (keyrank.Range, error) {
	return keyrank.RangeFromBound(key, key, ni.StartPosition, ni.EndPosition), nil
}

// GetLoad implements Index: the whole span is the load, exactly.
func (ni NaiveIndex) GetLoad() []model.LoadDistribution {
	return model.ExactLoads([]int{int(ni.EndPosition - ni.StartPosition)})
}
