// Package drafter provides the generic Builder-to-Drafter adapter and the
// fan-out combinator that tries several (family, budget) drafters and
// keeps the cheapest. Both are "many builders/drafters in, one draft out"
// shapes layered on top of model.Builder / model.Drafter.
package drafter

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/complexity"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/storageprofile"
)

// chunkSize is the number of key-positions each parallel builder sweep
// processes before its partial draft is merged with the others.
const chunkSize = 1_000_000

// MultipleDrafter fans out across several (family, budget) drafters,
// either in parallel (default) or serially, and keeps whichever draft is
// cheapest under the given storage profile.
type MultipleDrafter struct {
	drafters []model.Drafter
	parallel bool
}

// NewMultipleDrafter wraps a set of candidate drafters.
func NewMultipleDrafter(drafters ...model.Drafter) *MultipleDrafter {
	return &MultipleDrafter{drafters: drafters, parallel: true}
}

// Push appends a candidate drafter.
func (m *MultipleDrafter) Push(d model.Drafter) { m.drafters = append(m.drafters, d) }

// IsEmpty reports whether any candidate drafters have been registered.
func (m *MultipleDrafter) IsEmpty() bool { return len(m.drafters) == 0 }

// ToSerial disables the parallel fan-out, useful for deterministic tests.
func (m *MultipleDrafter) ToSerial() *MultipleDrafter { m.parallel = false; return m }

// ToParallel re-enables the parallel fan-out.
func (m *MultipleDrafter) ToParallel() *MultipleDrafter { m.parallel = true; return m }

// Draft returns the cheapest candidate draft. Panics if no drafters were
// registered, matching the teacher's convention of panicking only on
// programmer error (an empty candidate list is a caller bug, per the
// error-handling design).
func (m *MultipleDrafter) Draft(kps *keyrank.Collection, profile storageprofile.Profile) (model.Draft, error) {
	drafts := m.DraftMany(kps, profile)
	if len(drafts) == 0 {
		panic("drafter: no draft produced, drafters list is empty")
	}
	best := drafts[0]
	for _, d := range drafts[1:] {
		if d.Cost < best.Cost {
			best = d
		}
	}
	klog.V(2).Infof("best drafted model: %d submodels, cost= %s", len(best.KeyBuffers), best.Cost)
	return best, nil
}

// DraftMany runs every registered drafter and returns all resulting drafts.
func (m *MultipleDrafter) DraftMany(kps *keyrank.Collection, profile storageprofile.Profile) []model.Draft {
	drafts := make([]model.Draft, len(m.drafters))
	if !m.parallel {
		for i, d := range m.drafters {
			draft, err := d.Draft(kps, profile)
			if err != nil {
				panic(fmt.Sprintf("drafter: drafting failed: %v", err))
			}
			drafts[i] = draft
		}
		return drafts
	}

	var g errgroup.Group
	for i, d := range m.drafters {
		i, d := i, d
		g.Go(func() error {
			draft, err := d.Draft(kps, profile)
			if err != nil {
				return fmt.Errorf("drafting failed: %w", err)
			}
			drafts[i] = draft
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
	return drafts
}

// BuilderProducer constructs a fresh model.Builder, one per parallel chunk.
type BuilderProducer func() model.Builder

// BuilderAsDrafter turns any incremental model.Builder into a model.Drafter
// by sharding the input collection into chunkSize-sized pieces, drafting
// each chunk's builder in parallel, and merging the resulting artifact
// sequences and load distributions.
type BuilderAsDrafter struct {
	producer BuilderProducer
}

// WrapBuilder adapts a BuilderProducer into a Drafter.
func WrapBuilder(producer BuilderProducer) *BuilderAsDrafter {
	return &BuilderAsDrafter{producer: producer}
}

type preliminaryDraft struct {
	keyBuffers []model.KeyBuffer
	serde      model.Recon
	totalSize  int
}

func (b *BuilderAsDrafter) draftInner(it *keyrank.RangeIterator) (preliminaryDraft, error) {
	builder := b.producer()
	var totalSize int
	var keyBuffers []model.KeyBuffer
	for {
		kpr, ok := it.Next()
		if !ok {
			break
		}
		kb, err := builder.Consume(kpr)
		if err != nil {
			return preliminaryDraft{}, err
		}
		if kb != nil {
			totalSize += kb.SerializedSize()
			keyBuffers = append(keyBuffers, *kb)
		}
	}

	report, err := builder.Finalize()
	if err != nil {
		return preliminaryDraft{}, err
	}
	if report.MaybeKeyBuffer != nil {
		totalSize += report.MaybeKeyBuffer.SerializedSize()
		keyBuffers = append(keyBuffers, *report.MaybeKeyBuffer)
	}
	return preliminaryDraft{keyBuffers: keyBuffers, serde: report.Serde, totalSize: totalSize}, nil
}

func (b *BuilderAsDrafter) draftPrelim(kps *keyrank.Collection) (preliminaryDraft, error) {
	chunks := kps.ChunkIter(chunkSize)
	if len(chunks) == 0 {
		panic("drafter: empty key-position collection")
	}
	prelims := make([]preliminaryDraft, len(chunks))

	var g errgroup.Group
	for i, it := range chunks {
		i, it := i, it
		g.Go(func() error {
			pd, err := b.draftInner(it)
			if err != nil {
				return fmt.Errorf("drafting failed on a chunk of key-positions: %w", err)
			}
			prelims[i] = pd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return preliminaryDraft{}, err
	}

	combined := prelims[0]
	for _, next := range prelims[1:] {
		combined.keyBuffers = append(combined.keyBuffers, next.keyBuffers...)
		combined.serde.CombineWith(next.serde)
		combined.totalSize += next.totalSize
	}
	return combined, nil
}

// summarizeLoads reduces each layer's full load distribution down to its
// median load, the default per-submodel cost statistic.
func summarizeLoads(loads []model.LoadDistribution) []int {
	out := make([]int, len(loads))
	for i, l := range loads {
		out[i] = l.Percentile(50.0)
	}
	return out
}

// Draft implements model.Drafter.
func (b *BuilderAsDrafter) Draft(kps *keyrank.Collection, profile storageprofile.Profile) (model.Draft, error) {
	pd, err := b.draftPrelim(kps)
	if err != nil {
		return model.Draft{}, err
	}

	modelLoadSummary := summarizeLoads(pd.serde.GetLoad())
	estLoads, _ := complexity.Measure(profile, pd.totalSize)
	totalLoads := append(append([]int{}, estLoads...), modelLoadSummary...)
	cost := storageprofile.SequentialCost(profile, totalLoads)
	klog.V(4).Infof("drafted %d submodels, loads= %v, cost= %s", len(pd.keyBuffers), totalLoads, cost)
	return model.Draft{KeyBuffers: pd.keyBuffers, Serde: pd.serde, Cost: cost}, nil
}

// DraftMany implements model.Drafter; BuilderAsDrafter only ever produces
// one draft.
func (b *BuilderAsDrafter) DraftMany(kps *keyrank.Collection, profile storageprofile.Profile) []model.Draft {
	d, err := b.Draft(kps, profile)
	if err != nil {
		panic(err)
	}
	return []model.Draft{d}
}
