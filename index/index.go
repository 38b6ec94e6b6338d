// Package index implements the leaf and mid-tower index families a
// hierarchical layout is built from: NaiveIndex (predicts the whole
// underlying layer, no model at all), StashIndex (like Naive but also
// pre-warms the page cache with the data it wraps), and PiecewiseIndex
// (the actual learned-model layer: a data store of per-submodel artifacts
// plus the Recon used to reconstruct and query them).
package index

import (
	"context"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// Index predicts a key-position range for a lookup key and reports the
// load distribution of the layer below it. Predict takes a context
// because a PiecewiseIndex must read its data store to answer.
type Index interface {
	Predict(ctx context.Context, key keyrank.Key) (keyrank.Range, error)
	GetLoad() []model.LoadDistribution
}

// PartialIndex additionally supports predicting within an already-narrowed
// range, the operation a hierarchical stack uses to walk down past the
// first (whole-range) layer: key is the original lookup key throughout,
// kr is the range the layer above narrowed it to.
type PartialIndex interface {
	Index
	PredictWithin(ctx context.Context, key keyrank.Key, kr keyrank.Range) (keyrank.Range, error)
}

// Builder constructs an Index from a complete key-position collection.
type Builder interface {
	BuildIndex(ctx context.Context, kps *keyrank.Collection) (Index, error)
}
