package index

import (
	"context"
	"fmt"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// StackIndex composes an upper Index (predicting the whole span of the
// layer directly below it, possibly itself a StackIndex reaching further
// up the tower) with a lower PartialIndex (this layer's own piecewise
// model, narrowing within the span the upper index handed down).
type StackIndex struct {
	Upper Index
	Lower PartialIndex
}

// NewStackIndex returns a StackIndex over upper and lower.
func NewStackIndex(upper Index, lower PartialIndex) *StackIndex {
	return &StackIndex{Upper: upper, Lower: lower}
}

// Predict implements Index: predicts the whole-tower span via Upper, then
// narrows through Lower's single layer via PredictWithin.
func (si *StackIndex) Predict(ctx context.Context, key keyrank.Key) (keyrank.Range, error) {
	kr, err := si.Upper.Predict(ctx, key)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: stack upper predict: %w", err)
	}
	narrowed, err := si.Lower.PredictWithin(ctx, key, kr)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: stack lower predict within: %w", err)
	}
	return narrowed, nil
}

// GetLoad implements Index: the whole tower's load is every layer's load,
// from the root down through this one.
func (si *StackIndex) GetLoad() []model.LoadDistribution {
	return append(si.Upper.GetLoad(), si.Lower.GetLoad()...)
}
