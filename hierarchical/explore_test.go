package hierarchical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/storageprofile"
)

func TestExploreAndStackProducesCorrectLookupTower(t *testing.T) {
	ctx := context.Background()
	kps := buildBaseCollection(2_000, 16)
	profile := storageprofile.Bandwidth{NanosPerByte: 10}
	cfg, cleanup := newTestConfig(profile)
	defer cleanup()

	root, err := ExploreAndStack(ctx, kps, cfg, ExploreConfig{TopK: 3})
	require.NoError(t, err)
	assertPredictsCoverEveryKey(t, ctx, root, kps)
}

func TestExploreAndStackExactLayersBuildsRequestedDepth(t *testing.T) {
	ctx := context.Background()
	kps := buildBaseCollection(2_000, 16)
	profile := storageprofile.Bandwidth{NanosPerByte: 10}
	cfg, cleanup := newTestConfig(profile)
	defer cleanup()

	root, err := ExploreAndStack(ctx, kps, cfg, ExploreConfig{TopK: 3, ExactLayers: 2})
	require.NoError(t, err)

	// One load entry per layer plus the terminal leaf: exactly 2 layers
	// means 3 entries (leaf + layer + layer).
	assert.Len(t, root.GetLoad(), 3)
	assertPredictsCoverEveryKey(t, ctx, root, kps)
}

func TestExploreAndStackExactLayersUnsatisfiable(t *testing.T) {
	ctx := context.Background()
	kps := buildBaseCollection(2_000, 16)
	profile := storageprofile.Bandwidth{NanosPerByte: 10}
	cfg, cleanup := newTestConfig(profile)
	defer cleanup()

	_, err := ExploreAndStack(ctx, kps, cfg, ExploreConfig{TopK: 3, ExactLayers: 64})
	require.Error(t, err)
	assert.ErrorIs(t, err, aerrors.ErrTargetLayersNotSatisfied)
}
