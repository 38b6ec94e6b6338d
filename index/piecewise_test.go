package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/model/step"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/store"
)

// buildLayerFixture mirrors step's own builder-corridor fixture: a base
// array of 8 keys with the same left-anchor positions the step package's
// GreedyCorridor tests exercise.
func buildLayerFixture() *keyrank.Collection {
	kps := keyrank.New()
	pairs := []struct {
		key keyrank.Key
		pos keyrank.Position
	}{
		{0, 0}, {50, 7}, {100, 10}, {105, 30},
		{110, 50}, {115, 70}, {120, 90}, {131, 1000},
	}
	for _, p := range pairs {
		kps.Push(p.key, p.pos)
	}
	kps.SetPositionRange(0, 1915)
	return kps
}

func TestPiecewiseIndexBuildAndPredictCoversEveryKey(t *testing.T) {
	ctx := context.Background()
	kps := buildLayerFixture()

	storage := pagecache.NewStorage(64, 0).With("mem", blob.NewMemAdaptor())
	dataStore := store.NewArrayStoreSized(storage, "mem", "prefix", "submodels", keyrank.KeyLength+3*16)

	builder := step.NewGreedyBuilder(30, 3)
	pi, newKps, err := BuildPiecewiseIndex(ctx, builder, dataStore, kps)
	require.NoError(t, err)
	require.NotNil(t, pi)
	assert.True(t, newKps.Len() > 0)

	for _, kp := range kps.Iter() {
		kr, err := pi.Predict(ctx, kp.Key)
		require.NoErrorf(t, err, "key %d", kp.Key)
		assert.LessOrEqualf(t, kr.Offset, kp.Position, "key %d offset", kp.Key)
		assert.GreaterOrEqualf(t, kr.Offset+kr.Length, kp.Position, "key %d upper bound", kp.Key)
	}

	loads := pi.GetLoad()
	require.Len(t, loads, 1)
	assert.Greater(t, loads[0].Max(), 0)
}

func TestPiecewiseIndexPredictWithinNarrowedRange(t *testing.T) {
	ctx := context.Background()
	kps := buildLayerFixture()

	storage := pagecache.NewStorage(64, 0).With("mem", blob.NewMemAdaptor())
	dataStore := store.NewArrayStoreSized(storage, "mem", "prefix", "submodels2", keyrank.KeyLength+3*16)

	builder := step.NewGreedyBuilder(30, 3)
	pi, newKps, err := BuildPiecewiseIndex(ctx, builder, dataStore, kps)
	require.NoError(t, err)

	full, err := pi.Predict(ctx, 0)
	require.NoError(t, err)

	within, err := pi.PredictWithin(ctx, 0, keyrank.RangeFromBound(0, 0, 0, newKps.TotalBytes()))
	require.NoError(t, err)
	assert.Equal(t, full, within)
}

func TestCraftPiecewiseIndex(t *testing.T) {
	ctx := context.Background()
	kps := buildLayerFixture()

	storage := pagecache.NewStorage(64, 0).With("mem", blob.NewMemAdaptor())
	draftStore := store.NewArrayStoreSized(storage, "mem", "prefix", "draft_submodels", keyrank.KeyLength+3*16)
	builder := step.NewGreedyBuilder(30, 3)
	_, _, err := BuildPiecewiseIndex(ctx, builder, draftStore, kps)
	require.NoError(t, err)

	craftStore := store.NewArrayStoreSized(storage, "mem", "prefix", "craft_submodels", keyrank.KeyLength+3*16)
	draft := draftFromBuilder(t, kps)
	pi, newKps, err := CraftPiecewiseIndex(ctx, draft, craftStore)
	require.NoError(t, err)
	require.NotNil(t, pi)
	assert.True(t, newKps.Len() > 0)

	kr, err := pi.Predict(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, keyrank.Position(0), kr.Offset)
}

// draftFromBuilder drives a fresh builder identically to BuildPiecewiseIndex
// but captures a model.Draft instead of writing straight to a store,
// mirroring how a hierarchical candidate sweep drafts a layer before
// deciding to commit it.
func draftFromBuilder(t *testing.T, kps *keyrank.Collection) model.Draft {
	t.Helper()
	builder := step.NewGreedyBuilder(30, 3)
	var kbs []model.KeyBuffer
	it := kps.RangeIter()
	for {
		kpr, ok := it.Next()
		if !ok {
			break
		}
		kb, err := builder.Consume(kpr)
		require.NoError(t, err)
		if kb != nil {
			kbs = append(kbs, *kb)
		}
	}
	report, err := builder.Finalize()
	require.NoError(t, err)
	if report.MaybeKeyBuffer != nil {
		kbs = append(kbs, *report.MaybeKeyBuffer)
	}
	return model.Draft{KeyBuffers: kbs, Serde: report.Serde}
}
