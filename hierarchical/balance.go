package hierarchical

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
)

// BalanceAndStack drafts one best candidate at each layer; if its
// estimated cost beats fetching the whole current layer in one read, the
// candidate is committed and the builder recurses on the resulting
// key-position collection. Otherwise the tower terminates on a leaf over
// the current layer (Stash if a layer was already committed below it,
// Naive if this is the very first layer and nothing was built at all).
func BalanceAndStack(ctx context.Context, baseKps *keyrank.Collection, cfg Config) (index.Index, error) {
	buildID := newBuildID()
	klog.V(1).Infof("build %s: starting balance-and-stack", buildID)
	return balanceLoop(ctx, buildID, baseKps, cfg, nil)
}

func balanceLoop(ctx context.Context, buildID string, kps *keyrank.Collection, cfg Config, layers []committedLayer) (index.Index, error) {
	layerNum := len(layers) + 1
	whole := noIndexCost(cfg.Profile, kps)

	draft, err := cfg.Drafter.Draft(kps, cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("hierarchical: balance-and-stack draft layer_%d: %w", layerNum, err)
	}

	if draft.Cost >= whole {
		klog.V(2).Infof("build %s: terminating after %d layer(s), draft cost %s does not beat whole-layer cost %s",
			buildID, len(layers), draft.Cost, whole)
		return finishTower(ctx, cfg, kps, layers)
	}

	logLayerCommit(buildID, layerNum, draft, draft.Cost, whole)
	committed, err := commitLayer(ctx, cfg, draft, LayerName(layerNum), false)
	if err != nil {
		return nil, err
	}
	layers = append(layers, committed)
	return balanceLoop(ctx, buildID, committed.kps, cfg, layers)
}
