package hierarchical

import (
	"context"
	"fmt"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/storageprofile"
)

// defaultExploreTopK is how many cheapest candidate drafts at each layer
// get their hypothetical continuation actually explored, rather than
// trusted on the closed-form complexity estimate alone.
const defaultExploreTopK = 5

// maxExploreDepth backstops runaway recursion; complexity.Measure never
// considers more than 16 stacked layers, so neither does exploration.
const maxExploreDepth = 16

// ExploreConfig tunes explore-and-stack's search.
type ExploreConfig struct {
	// TopK is how many cheapest candidate drafts per layer get explored.
	// Zero means defaultExploreTopK.
	TopK int
	// ExactLayers, if non-zero, forces the tower to exactly this many
	// layers: "should build" is then governed by layer count rather than
	// cost, and ErrTargetLayersNotSatisfied is returned if the requested
	// depth cannot be reached.
	ExactLayers int
}

// explorePlan is a fully-decided sequence of drafts to commit, layer_1
// first, produced by dry-run recursion before anything is written for
// real.
type explorePlan struct {
	drafts []model.Draft
}

// ExploreAndStack evaluates, at each layer, the top-k cheapest candidate
// drafts' hypothetical continuations (via a dummy data store) rather than
// trusting the closed-form complexity estimate alone, and commits
// whichever end-to-end tower comes out cheapest.
func ExploreAndStack(ctx context.Context, baseKps *keyrank.Collection, cfg Config, ecfg ExploreConfig) (index.Index, error) {
	buildID := newBuildID()
	topK := ecfg.TopK
	if topK <= 0 {
		topK = defaultExploreTopK
	}
	klog.V(1).Infof("build %s: starting explore-and-stack, top-%d, exact_layers=%d", buildID, topK, ecfg.ExactLayers)

	plan, _, err := explorePlanAt(ctx, buildID, baseKps, cfg, topK, ecfg.ExactLayers, 0)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("build %s: explore-and-stack chose a %d-layer tower, materializing", buildID, len(plan.drafts))
	return materializeExplorePlan(ctx, cfg, baseKps, plan)
}

// layerOwnCost prices reading this layer's single relevant submodel
// artifact, summarized by the median of its load distribution — the same
// statistic the generic builder-to-drafter adapter uses.
func layerOwnCost(profile storageprofile.Profile, serde model.Recon) time.Duration {
	loads := serde.GetLoad()
	sizes := make([]int, len(loads))
	for i, l := range loads {
		sizes[i] = l.Percentile(50.0)
	}
	return storageprofile.SequentialCost(profile, sizes)
}

// explorePlanAt returns the cheapest plan (and its total estimated cost)
// for continuing to index kps, having already committed depth layers.
func explorePlanAt(ctx context.Context, buildID string, kps *keyrank.Collection, cfg Config, topK, exactLayers, depth int) (explorePlan, time.Duration, error) {
	whole := noIndexCost(cfg.Profile, kps)

	if exactLayers > 0 {
		if depth >= exactLayers {
			return explorePlan{}, whole, nil
		}
	} else {
		idealLowerBound := storageprofile.SequentialCost(cfg.Profile, []int{1, 1})
		if idealLowerBound >= whole || depth >= maxExploreDepth || kps.Len() <= 1 {
			return explorePlan{}, whole, nil
		}
	}

	candidates := cfg.Drafter.DraftMany(kps, cfg.Profile)
	if len(candidates) == 0 {
		if exactLayers > 0 {
			return explorePlan{}, 0, fmt.Errorf("hierarchical: explore-and-stack at depth %d: %w", depth, aerrors.ErrTargetLayersNotSatisfied)
		}
		return explorePlan{}, whole, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Cost < candidates[j].Cost })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	parentSize := kps.TotalBytes()
	bestCost := time.Duration(-1)
	var bestDraft model.Draft
	var bestChild explorePlan
	found := false

	for i, draft := range candidates {
		dryName := fmt.Sprintf("explore_d%d_%d", depth, i)
		committed, err := commitLayer(ctx, cfg, draft, dryName, true)
		if err != nil {
			return explorePlan{}, 0, err
		}
		ownCost := layerOwnCost(cfg.Profile, draft.Serde)

		// A candidate that fails to shrink the key-position collection it
		// hands up can never be recursed past: committing it again would
		// never terminate. In exact-layers mode, where the depth is
		// mandatory rather than cost-driven, such a candidate is simply
		// infeasible once more depth is still required.
		noProgress := committed.kps.Len() >= kps.Len() || committed.kps.IsEmpty()
		if exactLayers > 0 && depth+1 < exactLayers && noProgress {
			continue
		}

		cutoff := noProgress || (exactLayers == 0 && committed.kps.TotalBytes()*2 >= parentSize)
		var total time.Duration
		var childPlan explorePlan
		if cutoff {
			total = ownCost + noIndexCost(cfg.Profile, committed.kps)
		} else {
			childPlan, total, err = explorePlanAt(ctx, buildID, committed.kps, cfg, topK, exactLayers, depth+1)
			if err != nil {
				return explorePlan{}, 0, err
			}
			total += ownCost
		}

		if !found || total < bestCost {
			found = true
			bestCost = total
			bestDraft = draft
			bestChild = childPlan
		}
	}

	if !found {
		if exactLayers > 0 {
			return explorePlan{}, 0, fmt.Errorf("hierarchical: explore-and-stack at depth %d: %w", depth, aerrors.ErrTargetLayersNotSatisfied)
		}
		return explorePlan{}, whole, nil
	}

	plan := explorePlan{drafts: append([]model.Draft{bestDraft}, bestChild.drafts...)}
	return plan, bestCost, nil
}

// materializeExplorePlan commits plan's drafts for real, in order, and
// assembles the resulting layers into the final tower.
func materializeExplorePlan(ctx context.Context, cfg Config, baseKps *keyrank.Collection, plan explorePlan) (index.Index, error) {
	kps := baseKps
	var layers []committedLayer
	for i, draft := range plan.drafts {
		layerNum := i + 1
		committed, err := commitLayer(ctx, cfg, draft, LayerName(layerNum), false)
		if err != nil {
			return nil, err
		}
		layers = append(layers, committed)
		kps = committed.kps
	}
	return finishTower(ctx, cfg, kps, layers)
}
