// Package hierarchical chooses and stacks index layers under the cost
// model: it decides how many layers to build, which (family, budget)
// drafter wins at each layer, and assembles the resulting layers into the
// Stack/Leaf tree the lookup runtime walks top-down. Three strategies
// share one layer-stacking core: balance-and-stack, bounded-top stack,
// and explore-and-stack.
package hierarchical

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/storageprofile"
	"github.com/airindex-go/airindex/store"
)

// LayerName returns the blob name a committed layer's data store is
// written under, e.g. "layer_1", "layer_2".
func LayerName(layerNum int) string {
	return fmt.Sprintf("layer_%d", layerNum)
}

// Config carries everything a build run needs beyond the base
// key-position collection: where to price reads, where to persist
// layers, and which drafter to consult at each layer.
type Config struct {
	Profile storageprofile.Profile
	Storage *pagecache.Storage
	Scheme  string
	Prefix  string

	// Drafter is consulted at every layer; it is re-usable across layers
	// since a MultipleDrafter is stateless over its candidate budgets.
	Drafter model.Drafter
}

func (c Config) reloadContext() *index.Context {
	return &index.Context{Storage: c.Storage, Scheme: c.Scheme, StorePrefix: c.Prefix}
}

// noIndexCost returns the cost of fetching kps's whole bracketed span in
// a single read, the baseline every candidate layer is compared against.
func noIndexCost(profile storageprofile.Profile, kps *keyrank.Collection) time.Duration {
	return storageprofile.SequentialCost(profile, []int{int(kps.TotalBytes())})
}

// committedLayer is one already-built layer of the tower: the piecewise
// index over its data store, plus the key-position collection the next
// layer up drafts from.
type committedLayer struct {
	pi  *index.PiecewiseIndex
	kps *keyrank.Collection
	ds  store.DataStore
}

// commitLayer designs a data store for draft (ArrayStore or BlockStore,
// whichever store.ChooseLayout picks), writes draft's key-buffers to it
// under name, and returns the resulting PiecewiseIndex plus the
// key-position collection the layer above is drafted from. During a dry
// run layers write through a dummyStore instead of a real one.
func commitLayer(ctx context.Context, cfg Config, draft model.Draft, name string, dryRun bool) (committedLayer, error) {
	var ds store.DataStore
	if dryRun {
		ds = newDummyStore()
	} else {
		designer := store.NewDesigner(cfg.Storage, cfg.Scheme)
		ds = designer.DesignForKBs(draft.KeyBuffers, cfg.Prefix, name)
	}
	pi, newKps, err := index.CraftPiecewiseIndex(ctx, draft, ds)
	if err != nil {
		return committedLayer{}, fmt.Errorf("hierarchical: commit %s: %w", name, err)
	}
	return committedLayer{pi: pi, kps: newKps, ds: ds}, nil
}

// finishTower builds the terminal leaf over kps (Stash if layers were
// already committed below it, Naive otherwise) and assembles it with
// every committed layer into the final Index.
func finishTower(ctx context.Context, cfg Config, kps *keyrank.Collection, layers []committedLayer) (index.Index, error) {
	var lastDS store.DataStore
	if len(layers) > 0 {
		lastDS = layers[len(layers)-1].ds
	}
	leaf, err := terminalLeaf(ctx, cfg, kps, lastDS)
	if err != nil {
		return nil, err
	}
	return assembleStack(leaf, layers), nil
}

// assembleStack builds the final Index from a bottom-up sequence of
// committed layers (layers[0] drafted directly from the base array,
// layers[len-1] the last one built before termination) plus the leaf
// that terminated the tower. Nesting goes entirely through StackIndex's
// Upper field: the leaf is innermost, and each layer wraps progressively
// outward, so the outermost Lower is layers[0] — the layer that narrows
// straight into the base array's own byte range.
func assembleStack(leaf index.Index, layers []committedLayer) index.Index {
	root := leaf
	for i := len(layers) - 1; i >= 0; i-- {
		root = index.NewStackIndex(root, layers[i].pi)
	}
	return root
}

// terminalLeaf builds the root leaf a tower terminates on: a NaiveIndex
// if no layer was ever committed (kps is still the base array's own
// collection), or a StashIndex warming the last committed layer's data
// store otherwise.
func terminalLeaf(ctx context.Context, cfg Config, kps *keyrank.Collection, lastStore store.DataStore) (index.Index, error) {
	if lastStore == nil {
		return index.BuildNaiveIndex(kps), nil
	}
	si, err := index.BuildStashIndex(ctx, cfg.reloadContext(), kps, lastStore)
	if err != nil {
		return nil, fmt.Errorf("hierarchical: terminal stash leaf: %w", err)
	}
	return si, nil
}

// newBuildID returns a fresh identifier for one build run, threaded
// through log lines so concurrent builds (and repeated explore-and-stack
// recursion) can be told apart.
func newBuildID() string { return uuid.NewString() }

func logLayerCommit(buildID string, layerNum int, draft model.Draft, current, whole time.Duration) {
	klog.V(2).Infof("build %s: committing layer_%d (%d submodels), draft cost %s vs whole-layer cost %s",
		buildID, layerNum, len(draft.KeyBuffers), current, whole)
}
