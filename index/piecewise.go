package index

import (
	"context"
	"fmt"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/store"
)

// PiecewiseIndex is the learned-model layer proper: a data store of
// per-submodel artifacts (key-buffers) plus the Recon that reconstructs
// a submodel from its serialized bytes and tracks the layer's load.
type PiecewiseIndex struct {
	dataStore     store.DataStore
	dataStoreMeta DataStoreMeta
	modelSerde    model.Recon
}

func (pi *PiecewiseIndex) captureMeta() {
	switch ds := pi.dataStore.(type) {
	case *store.ArrayStore:
		pi.dataStoreMeta = DataStoreMetaFromArray(ds)
	case *store.BlockStore:
		pi.dataStoreMeta = DataStoreMetaFromBlock(ds)
	}
}

// BuildPiecewiseIndex drives modelBuilder.Consume over every key-position
// range in kps, writing each emitted submodel artifact to dataStore as it
// closes. It returns the finished index plus the key-position collection
// a layer above can draft a model from (one entry per submodel artifact).
func BuildPiecewiseIndex(ctx context.Context, modelBuilder model.Builder, dataStore store.DataStore, kps *keyrank.Collection) (*PiecewiseIndex, *keyrank.Collection, error) {
	w := dataStore.BeginWrite()
	it := kps.RangeIter()
	for {
		kpr, ok := it.Next()
		if !ok {
			break
		}
		kb, err := modelBuilder.Consume(kpr)
		if err != nil {
			return nil, nil, fmt.Errorf("index: piecewise consume: %w", err)
		}
		if kb != nil {
			if err := w.Write(*kb); err != nil {
				return nil, nil, fmt.Errorf("index: piecewise write: %w", err)
			}
		}
	}
	report, err := modelBuilder.Finalize()
	if err != nil {
		return nil, nil, fmt.Errorf("index: piecewise finalize: %w", err)
	}
	if report.MaybeKeyBuffer != nil {
		if err := w.Write(*report.MaybeKeyBuffer); err != nil {
			return nil, nil, fmt.Errorf("index: piecewise write trailing: %w", err)
		}
	}
	newKps, err := w.Commit(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("index: piecewise commit: %w", err)
	}
	pi := &PiecewiseIndex{dataStore: dataStore, modelSerde: report.Serde}
	pi.captureMeta()
	return pi, newKps, nil
}

// CraftPiecewiseIndex writes an already-drafted layer's key-buffers
// directly, skipping the incremental builder-consume loop. A hierarchical
// builder's candidate sweep uses this when it already drafted and priced
// this layer's model ahead of time and just needs it committed to disk.
func CraftPiecewiseIndex(ctx context.Context, draft model.Draft, dataStore store.DataStore) (*PiecewiseIndex, *keyrank.Collection, error) {
	w := dataStore.BeginWrite()
	for _, kb := range draft.KeyBuffers {
		if err := w.Write(kb); err != nil {
			return nil, nil, fmt.Errorf("index: piecewise craft write: %w", err)
		}
	}
	newKps, err := w.Commit(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("index: piecewise craft commit: %w", err)
	}
	pi := &PiecewiseIndex{dataStore: dataStore, modelSerde: draft.Serde}
	pi.captureMeta()
	return pi, newKps, nil
}

// selectRelevantKB finds the submodel artifact covering key by scanning
// a freshly-opened reader.
func selectRelevantKB(reader store.Reader, key keyrank.Key) (model.KeyBuffer, error) {
	kb, err := reader.FirstOf(key)
	if err != nil {
		return model.KeyBuffer{}, err
	}
	return kb, nil
}

func (pi *PiecewiseIndex) predictFromReader(reader store.Reader, key keyrank.Key) (keyrank.Range, error) {
	kb, err := selectRelevantKB(reader, key)
	if err != nil {
		return keyrank.Range{}, err
	}
	m, err := pi.modelSerde.Reconstruct(kb.Buffer)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: piecewise reconstruct: %w", err)
	}
	kr, err := m.Predict(key)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: piecewise predict %d: %w", key, err)
	}
	return kr, nil
}

// Predict implements Index: reads the whole data store, then selects and
// queries the one submodel artifact covering key.
func (pi *PiecewiseIndex) Predict(ctx context.Context, key keyrank.Key) (keyrank.Range, error) {
	reader, err := pi.dataStore.ReadAll(ctx)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: piecewise read all: %w", err)
	}
	return pi.predictFromReader(reader, key)
}

// PredictWithin implements PartialIndex: reads only the byte range kr
// already narrowed by the layer above, rather than the whole data store.
func (pi *PiecewiseIndex) PredictWithin(ctx context.Context, key keyrank.Key, kr keyrank.Range) (keyrank.Range, error) {
	if kr.Length == 0 {
		return keyrank.Range{}, aerrors.ErrOutOfCoverage
	}
	reader, err := pi.dataStore.ReadWithin(ctx, kr.Offset, kr.Length)
	if err != nil {
		return keyrank.Range{}, fmt.Errorf("index: piecewise read within: %w", err)
	}
	return pi.predictFromReader(reader, key)
}

// GetLoad implements Index.
func (pi *PiecewiseIndex) GetLoad() []model.LoadDistribution {
	return pi.modelSerde.GetLoad()
}
