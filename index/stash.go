package index

import (
	"context"
	"fmt"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/store"
)

// stash pairs a path with the bytes read from it, pre-loaded into the
// page cache so a later lookup against that path never blocks on I/O.
type stash struct {
	Path   string
	Buffer []byte
}

func (s *stash) size() int { return len(s.Buffer) }

// load reads the stash's full contents from ctx's storage, without
// warming the cache yet.
func (s *stash) load(ctx context.Context, rctx *Context) error {
	data, err := rctx.Storage.ReadAll(ctx, rctx.Scheme, s.Path)
	if err != nil {
		return fmt.Errorf("index: stash read %s: %w", s.Path, err)
	}
	s.Buffer = data
	return nil
}

// warm seeds the page cache with the stash's already-loaded buffer.
func (s *stash) warm(rctx *Context) {
	rctx.Storage.WarmCacheBytes(s.Path, s.Buffer)
}

// StashIndex behaves exactly like NaiveIndex (it predicts the whole span
// below it) but additionally pre-reads and pre-warms the cache for every
// path its data store touches, so the layer below never pays a cold-cache
// penalty on its first real lookup.
type StashIndex struct {
	NaiveIndex
	Stashes []stash
}

// BuildStashIndex returns a StashIndex over kps's whole span, stashing
// every path dataStore reports as relevant (dataStore may be nil, in
// which case no paths are stashed and it behaves exactly like a
// NaiveIndex).
func BuildStashIndex(ctx context.Context, rctx *Context, kps *keyrank.Collection, dataStore store.DataStore) (*StashIndex, error) {
	si := &StashIndex{NaiveIndex: BuildNaiveIndex(kps)}
	if dataStore != nil {
		for _, p := range dataStore.RelevantPaths() {
			si.Stashes = append(si.Stashes, stash{Path: p})
		}
	}
	if err := si.apply(ctx, rctx); err != nil {
		return nil, err
	}
	return si, nil
}

// apply (re)reads and warms every stash against rctx, used both right
// after building and when reconstructing a StashIndex from Meta.
func (si *StashIndex) apply(ctx context.Context, rctx *Context) error {
	if err := rctx.requireStorage(); err != nil {
		return err
	}
	for i := range si.Stashes {
		if err := si.Stashes[i].load(ctx, rctx); err != nil {
			return err
		}
		si.Stashes[i].warm(rctx)
	}
	return nil
}

// GetLoad implements Index: the load is the larger of the total stashed
// byte volume and the span's own size, since a cache-warmed read still
// has to move that many bytes through memory at least once.
func (si *StashIndex) GetLoad() []model.LoadDistribution {
	var stashTotal int
	for _, s := range si.Stashes {
		stashTotal += s.size()
	}
	span := int(si.EndPosition - si.StartPosition)
	load := span
	if stashTotal > load {
		load = stashTotal
	}
	return model.ExactLoads([]int{load})
}
