package rankdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/store"
)

// naiveBuilder adapts index.BuildNaiveIndex to the index.Builder interface,
// enough to exercise RankDB without pulling in a whole hierarchical build.
type naiveBuilder struct{}

func (naiveBuilder) BuildIndex(_ context.Context, kps *keyrank.Collection) (index.Index, error) {
	return index.BuildNaiveIndex(kps), nil
}

func newTestStorage() *pagecache.Storage {
	return pagecache.NewStorage(4096, 0).With("mem", blob.NewMemAdaptor())
}

// writeKeyArray writes keys (already sorted, duplicates allowed) as 8-byte
// fixed records (bare keys, no payload) and returns the resulting array
// store.
func writeKeyArray(t *testing.T, storage *pagecache.Storage, name string, keys []uint64) *store.ArrayStore {
	t.Helper()
	as := store.NewArrayStoreSized(storage, "mem", "base", name, keyrank.KeyLength)
	w := as.BeginWrite()
	for _, k := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: k}))
	}
	_, err := w.Commit(context.Background())
	require.NoError(t, err)
	return as
}

func tinyUniformKeys() []uint64 {
	return []uint64{0, 2, 8, 21, 24, 666, 667, 669, 672, 679}
}

// TestRankOfTinyUniform matches S1 from the base scenario list: exact
// rank lookups, an absent key just below a real one, the last key, and a
// key far out of range.
func TestRankOfTinyUniform(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	as := writeKeyArray(t, storage, "s1", tinyUniformKeys())

	db := New(as)
	require.NoError(t, db.BuildIndex(ctx, naiveBuilder{}))

	kr, err := db.RankOf(ctx, 666)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, KeyRank{Key: 666, Rank: 5}, *kr)

	kr, err = db.RankOf(ctx, 665)
	require.NoError(t, err)
	assert.Nil(t, kr)

	kr, err = db.RankOf(ctx, 679)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, KeyRank{Key: 679, Rank: 9}, *kr)

	kr, err = db.RankOf(ctx, 1_000_000)
	require.NoError(t, err)
	assert.Nil(t, kr)
}

func TestRankOfEveryPresentKey(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	keys := tinyUniformKeys()
	as := writeKeyArray(t, storage, "every", keys)

	db := New(as)
	require.NoError(t, db.BuildIndex(ctx, naiveBuilder{}))

	for rank, key := range keys {
		kr, err := db.RankOf(ctx, key)
		require.NoError(t, err)
		require.NotNilf(t, kr, "key %d", key)
		assert.Equal(t, KeyRank{Key: key, Rank: rank}, *kr)
	}
}

func TestRankOfOrNearest(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	as := writeKeyArray(t, storage, "nearest", tinyUniformKeys())

	db := New(as)
	require.NoError(t, db.BuildIndex(ctx, naiveBuilder{}))

	// Present key: behaves exactly like RankOf.
	kr, err := db.RankOfOrNearest(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, KeyRank{Key: 0, Rank: 0}, *kr)

	// Absent key between two present keys: rank of the next greater key.
	kr, err = db.RankOfOrNearest(ctx, 665)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, KeyRank{Key: 666, Rank: 5}, *kr)

	kr, err = db.RankOfOrNearest(ctx, 670)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, KeyRank{Key: 672, Rank: 8}, *kr)

	// Past the last key: no greater key exists.
	kr, err = db.RankOfOrNearest(ctx, 1_000_000)
	require.NoError(t, err)
	assert.Nil(t, kr)
}

// TestReconstructKeyPositionsDropsConsecutiveDuplicates exercises the
// non-goal boundary directly: only adjacent repeats collapse, and ranks
// in the reconstructed collection still track each record's true
// position in the underlying array.
func TestReconstructKeyPositionsDropsConsecutiveDuplicates(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	as := writeKeyArray(t, storage, "dups", []uint64{1, 1, 1, 5, 7, 7, 9})

	db := New(as)
	kps, err := db.ReconstructKeyPositions(ctx)
	require.NoError(t, err)

	require.Equal(t, 4, kps.Len())
	assert.Equal(t, keyrank.KeyPosition{Key: 1, Position: 0}, kps.At(0))
	assert.Equal(t, keyrank.KeyPosition{Key: 5, Position: 3 * keyrank.KeyLength}, kps.At(1))
	assert.Equal(t, keyrank.KeyPosition{Key: 7, Position: 4 * keyrank.KeyLength}, kps.At(2))
	assert.Equal(t, keyrank.KeyPosition{Key: 9, Position: 6 * keyrank.KeyLength}, kps.At(3))

	require.NoError(t, db.BuildIndex(ctx, naiveBuilder{}))
	kr, err := db.RankOf(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, 4, kr.Rank)
}

// TestBuildSerializeReloadRankOf is the build/load idempotence scenario
// (S6-style, but at the rank-DB boundary rather than the bare index
// boundary): every RankOf answer must survive a metadata round trip.
func TestBuildSerializeReloadRankOf(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	keys := tinyUniformKeys()
	as := writeKeyArray(t, storage, "roundtrip", keys)

	db := New(as)
	require.NoError(t, db.BuildIndex(ctx, naiveBuilder{}))

	meta, err := db.ToMeta()
	require.NoError(t, err)
	raw, err := meta.MarshalBinary()
	require.NoError(t, err)

	var reloadedMeta Meta
	require.NoError(t, reloadedMeta.UnmarshalBinary(raw))

	reloaded, err := FromMeta(ctx, reloadedMeta, storage, "mem", "base", "base")
	require.NoError(t, err)

	for _, key := range append(append([]uint64{}, keys...), 665, 1_000_000) {
		want, err := db.RankOf(ctx, key)
		require.NoError(t, err)
		got, err := reloaded.RankOf(ctx, key)
		require.NoError(t, err)
		assert.Equalf(t, want, got, "key %d", key)
	}
}

func TestGetLoadWithoutIndexReportsWholeArraySize(t *testing.T) {
	storage := newTestStorage()
	as := writeKeyArray(t, storage, "noload", tinyUniformKeys())

	db := New(as)
	loads := db.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, len(tinyUniformKeys())*keyrank.KeyLength, loads[0].Max())
}
