// Package rankdb glues a lookup index to the fixed-width base array it
// was built over. The index narrows a key down to a short byte range;
// RankDB does the final binary search within that range to find the
// record's exact rank, or determine it is absent.
package rankdb

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/store"
)

// KeyRank pairs a key with its 0-based rank in the base array.
type KeyRank struct {
	Key  keyrank.Key
	Rank int
}

// RankDB pairs the base array with the index built over it. The index is
// optional at construction time: New returns a DB with no index attached,
// ready for BuildIndex or AttachIndex.
type RankDB struct {
	arrayStore *store.ArrayStore
	idx        index.Index
}

// New returns a RankDB with no index attached yet.
func New(arrayStore *store.ArrayStore) *RankDB {
	return &RankDB{arrayStore: arrayStore}
}

// AttachIndex wires in an already-built index, e.g. one reloaded from
// metadata.
func (db *RankDB) AttachIndex(idx index.Index) {
	db.idx = idx
}

// BuildIndex reconstructs the base array's key-position collection and
// builds an index over it with builder, then attaches the result.
func (db *RankDB) BuildIndex(ctx context.Context, builder index.Builder) error {
	kps, err := db.ReconstructKeyPositions(ctx)
	if err != nil {
		return err
	}
	idx, err := builder.BuildIndex(ctx, kps)
	if err != nil {
		return fmt.Errorf("rankdb: build index: %w", err)
	}
	db.AttachIndex(idx)
	return nil
}

func (db *RankDB) mustIndex() index.Index {
	if db.idx == nil {
		panic("rankdb: index missing, trying to access an empty rank DB")
	}
	return db.idx
}

// ReconstructKeyPositions scans the base array once, parses each
// fixed-width record's key, drops consecutive duplicate keys, and returns
// the key-position collection a hierarchical builder drafts layers from.
// The base array's records are written in key order already; only
// adjacent repeats are ever collapsed (spec.md's non-goal: no merging
// beyond consecutive-run dedup).
func (db *RankDB) ReconstructKeyPositions(ctx context.Context) (*keyrank.Collection, error) {
	reader, err := db.arrayStore.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("rankdb: read base array: %w", err)
	}
	dataSize := db.arrayStore.DataSize()

	kps := keyrank.New()
	it := reader.Iter()
	var lastKey keyrank.Key
	haveLast := false
	duplicates := 0
	rank := 0
	for {
		kb, ok := it.Next()
		if !ok {
			break
		}
		if !haveLast || kb.Key != lastKey {
			kps.Push(kb.Key, keyrank.Position(rank*dataSize))
			lastKey = kb.Key
			haveLast = true
		} else {
			duplicates++
		}
		rank++
	}
	kps.SetPositionRange(0, keyrank.Position(rank*dataSize))
	klog.V(2).Infof("rankdb: reconstructed %d key-positions from %d records (%d duplicate keys dropped)",
		kps.Len(), rank, duplicates)
	return kps, nil
}

func (db *RankDB) rankReaderWithin(ctx context.Context, kpr keyrank.Range) (store.RankReader, error) {
	reader, err := db.arrayStore.ReadWithin(ctx, kpr.Offset, kpr.Length)
	if err != nil {
		return nil, fmt.Errorf("rankdb: read within: %w", err)
	}
	rr, ok := reader.(store.RankReader)
	if !ok {
		return nil, fmt.Errorf("rankdb: reader %T does not support ranked lookup", reader)
	}
	return rr, nil
}

// RankOf returns the rank of the record with the exact key, or nil if no
// record with that key exists: either it falls outside the base array's
// coverage entirely, or it falls within but no record matches.
func (db *RankDB) RankOf(ctx context.Context, key keyrank.Key) (*KeyRank, error) {
	kpr, err := db.mustIndex().Predict(ctx, key)
	if err != nil {
		if aerrors.IsOutOfCoverage(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rankdb: predict: %w", err)
	}
	rr, err := db.rankReaderWithin(ctx, kpr)
	if err != nil {
		return nil, err
	}
	kb, rank, err := rr.FirstOfWithRank(key)
	if err != nil {
		if aerrors.IsOutOfCoverage(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rankdb: first-of: %w", err)
	}
	if kb.Key != key {
		return nil, nil
	}
	return &KeyRank{Key: kb.Key, Rank: rank}, nil
}

// RankOfOrNearest is like RankOf, but for an absent key returns the rank
// of the next key greater than it instead of nil — still a single point
// answer (the insertion point), never a range or span of keys. Returns
// nil only when no key in the base array is greater than or equal to key.
func (db *RankDB) RankOfOrNearest(ctx context.Context, key keyrank.Key) (*KeyRank, error) {
	kpr, err := db.mustIndex().Predict(ctx, key)
	if err != nil {
		if aerrors.IsOutOfCoverage(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rankdb: predict: %w", err)
	}
	rr, err := db.rankReaderWithin(ctx, kpr)
	if err != nil {
		return nil, err
	}
	kb, rank, err := rr.CeilingWithRank(key)
	if err != nil {
		if aerrors.IsOutOfCoverage(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rankdb: ceiling: %w", err)
	}
	return &KeyRank{Key: kb.Key, Rank: rank}, nil
}

// GetLoad reports the load distribution of every layer above the base
// array, or the array's whole size as a single exact load if no index is
// attached yet.
func (db *RankDB) GetLoad() []model.LoadDistribution {
	if db.idx != nil {
		return db.idx.GetLoad()
	}
	return model.ExactLoads([]int{db.arrayStore.ReadAllSize()})
}
