package hierarchical

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
)

// BoundedTopStack behaves exactly like BalanceAndStack except its stop
// rule is a caller-supplied byte bound on the topmost layer's size
// (B-tree style): it keeps committing layers as long as the current
// layer's bracketed span exceeds topBound, regardless of whether the
// draft's estimated cost beats the whole-layer cost.
func BoundedTopStack(ctx context.Context, baseKps *keyrank.Collection, cfg Config, topBound keyrank.Position) (index.Index, error) {
	buildID := newBuildID()
	klog.V(1).Infof("build %s: starting bounded-top stack, bound=%d", buildID, topBound)
	return boundedLoop(ctx, buildID, baseKps, cfg, topBound, nil)
}

func boundedLoop(ctx context.Context, buildID string, kps *keyrank.Collection, cfg Config, topBound keyrank.Position, layers []committedLayer) (index.Index, error) {
	if kps.TotalBytes() <= topBound {
		klog.V(2).Infof("build %s: terminating after %d layer(s), top layer %d bytes within bound %d",
			buildID, len(layers), kps.TotalBytes(), topBound)
		return finishTower(ctx, cfg, kps, layers)
	}

	layerNum := len(layers) + 1
	draft, err := cfg.Drafter.Draft(kps, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("hierarchical: bounded-top stack draft layer_%d: %w", layerNum, err)
	}

	whole := noIndexCost(cfg.Profile, kps)
	logLayerCommit(buildID, layerNum, draft, draft.Cost, whole)
	committed, err := commitLayer(ctx, cfg, draft, LayerName(layerNum), false)
	if err != nil {
		return nil, err
	}
	layers = append(layers, committed)
	return boundedLoop(ctx, buildID, committed.kps, cfg, topBound, layers)
}
