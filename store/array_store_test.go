package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
)

func generateSimpleArrayKV() ([]uint64, [][]byte) {
	keys := []uint64{0, 2, 8, 21, 24, 666, 667, 669, 672, 679}
	buffers := [][]byte{
		{0, 0, 0, 0},
		{2, 0, 0, 0},
		{8, 0, 0, 0},
		{21, 0, 0, 0},
		{24, 0, 0, 0},
		{154, 2, 0, 0},
		{155, 2, 0, 0},
		{157, 2, 0, 0},
		{160, 2, 0, 0},
		{167, 2, 0, 0},
	}
	return keys, buffers
}

func newTestStorage() *pagecache.Storage {
	return pagecache.NewStorage(64, 0).With("mem", blob.NewMemAdaptor())
}

func TestArrayStoreReadWriteFull(t *testing.T) {
	ctx := context.Background()
	keys, buffers := generateSimpleArrayKV()
	storage := newTestStorage()
	arrstore := NewArrayStoreSized(storage, "mem", "prefix", "test_arrstore", 12)

	// write but never commit
	w := arrstore.BeginWrite()
	for i, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: buffers[i]}))
	}
	assert.Equal(t, 0, arrstore.state.Length, "length should be zero without commit")

	// write and commit
	w = arrstore.BeginWrite()
	for i, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: buffers[i]}))
	}
	kps, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, arrstore.state.Length > 0, "length should be updated after writing")

	// monotonicity
	var prevPosition uint64
	for i := 0; i < kps.Len(); i++ {
		kp := kps.At(i)
		assert.Equal(t, keys[i], kp.Key)
		assert.GreaterOrEqual(t, kp.Position, prevPosition)
		prevPosition = kp.Position
	}

	// reread from each recorded position
	for idx := 0; idx < kps.Len(); idx++ {
		kr, err := kps.RangeAt(idx)
		require.NoError(t, err)
		reader, err := arrstore.ReadWithin(ctx, kr.Offset, kr.Length)
		require.NoError(t, err)
		it := reader.Iter()

		kb, ok := it.Next()
		require.True(t, ok, "expect a data buffer")
		assert.Equal(t, kr.KeyL, kb.Key)
		assert.Equal(t, keys[idx], kb.Key)
		assert.Equal(t, buffers[idx], kb.Buffer)

		_, ok = it.Next()
		assert.False(t, ok, "expected no more data buffers")
	}

	// partial, unaligned read: between records 1-2 and 7-8; covered ranks
	// are taken by ceiling division at both ends, so record 1 is skipped
	// and record 7 is included
	pos1 := kps.At(1).Position
	pos2 := kps.At(2).Position
	pos1half := (pos1 + pos2) / 2
	pos7 := kps.At(7).Position
	pos8 := kps.At(8).Position
	pos7half := (pos7 + pos8) / 2
	reader, err := arrstore.ReadWithin(ctx, pos1half, pos7half-pos1half)
	require.NoError(t, err)
	it := reader.Iter()
	for idx := 2; idx < 8; idx++ {
		kb, ok := it.Next()
		require.True(t, ok, "expect a data buffer (partial)")
		assert.Equal(t, keys[idx], kb.Key)
		assert.Equal(t, buffers[idx], kb.Buffer)
	}
	_, ok := it.Next()
	assert.False(t, ok, "expected no more data buffers (partial)")

	// read all
	reader, err = arrstore.ReadAll(ctx)
	require.NoError(t, err)
	it = reader.Iter()
	for idx := range keys {
		kb, ok := it.Next()
		require.True(t, ok, "expect a data buffer (read all)")
		assert.Equal(t, keys[idx], kb.Key)
		assert.Equal(t, buffers[idx], kb.Buffer)
	}
	_, ok = it.Next()
	assert.False(t, ok, "expected no more data buffers (read all)")
}

func TestArrayStoreFirstOf(t *testing.T) {
	ctx := context.Background()
	keys, buffers := generateSimpleArrayKV()
	storage := newTestStorage()
	arrstore := NewArrayStoreSized(storage, "mem", "prefix", "test_arrstore_firstof", 12)

	w := arrstore.BeginWrite()
	for i, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: buffers[i]}))
	}
	_, err := w.Commit(ctx)
	require.NoError(t, err)

	reader, err := arrstore.ReadAll(ctx)
	require.NoError(t, err)

	// exact hit
	kb, err := reader.FirstOf(667)
	require.NoError(t, err)
	assert.Equal(t, uint64(667), kb.Key)

	// straddling a gap: largest key <= 23 is 21
	kb, err = reader.FirstOf(23)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), kb.Key)

	// exact hit on the smallest key
	kb, err = reader.FirstOf(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), kb.Key)

	// above every key: clamps to the last record
	kb, err = reader.FirstOf(10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(679), kb.Key)
}
