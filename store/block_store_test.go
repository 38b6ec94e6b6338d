package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/model"
)

func generateSimpleBlockKV() ([]uint64, [][]byte) {
	keys := []uint64{50, 100, 200, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}
	buffers := make([][]byte, len(keys))
	buffers[0] = []byte{255}
	buffers[1] = []byte{1, 1, 2, 3, 5, 8, 13, 21}
	buffers[2] = make([]byte, 256)
	sizes := []int{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}
	for i, size := range sizes {
		buffers[3+i] = make([]byte, size)
	}
	return keys, buffers
}

func TestBlockStoreReadWriteFull(t *testing.T) {
	ctx := context.Background()
	keys, buffers := generateSimpleBlockKV()
	storage := newTestStorage()
	bstore := NewBlockStoreConfig("bstore").WithBlockSize(128).Build(storage, "mem", "prefix")

	// write but never commit
	w := bstore.BeginWrite()
	for i, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: buffers[i]}))
	}
	assert.Equal(t, 0, bstore.state.TotalPages, "total pages should be zero without commit")

	// write and commit
	w = bstore.BeginWrite()
	for i, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: buffers[i]}))
	}
	kps, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, bstore.state.TotalPages > 0, "total pages should be updated after writing")

	var prevPosition uint64
	for i := 0; i < kps.Len(); i++ {
		kp := kps.At(i)
		assert.Equal(t, keys[i], kp.Key)
		assert.GreaterOrEqual(t, kp.Position, prevPosition)
		prevPosition = kp.Position
	}

	for idx := 0; idx < kps.Len(); idx++ {
		kr, err := kps.RangeAt(idx)
		require.NoError(t, err)
		reader, err := bstore.ReadWithin(ctx, kr.Offset, kr.Length)
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

	// partial, unaligned read between records 1-2 and 7-8: should skip
	// both boundary records, since the window's start is rounded up and its
	// end rounded down to whole pages
	pos1 := kps.At(1).Position
	pos2 := kps.At(2).Position
	pos1half := (pos1 + pos2) / 2
	pos7 := kps.At(7).Position
	pos8 := kps.At(8).Position
	pos7half := (pos7 + pos8) / 2
	reader, err := bstore.ReadWithin(ctx, pos1half, pos7half-pos1half)
	require.NoError(t, err)
	it := reader.Iter()
	for idx := 2; idx < 7; idx++ {
		kb, ok := it.Next()
		require.True(t, ok, "expect a data buffer (partial)")
		assert.Equal(t, keys[idx], kb.Key)
		assert.Equal(t, buffers[idx], kb.Buffer)
	}
	_, ok := it.Next()
	assert.False(t, ok, "expected no more data buffers (partial)")

	reader, err = bstore.ReadAll(ctx)
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

func TestBlockStoreFirstOf(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage()
	bstore := NewBlockStoreConfig("bstore2").WithBlockSize(128).Build(storage, "mem", "prefix")

	keys := []uint64{1, 2, 4, 8, 16}
	w := bstore.BeginWrite()
	for _, key := range keys {
		require.NoError(t, w.Write(model.KeyBuffer{Key: key, Buffer: []byte{byte(key)}}))
	}
	_, err := w.Commit(ctx)
	require.NoError(t, err)

	reader, err := bstore.ReadAll(ctx)
	require.NoError(t, err)

	kb, err := reader.FirstOf(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), kb.Key)

	kb, err = reader.FirstOf(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), kb.Key, "largest key <= 7 is 4")

	_, err = reader.FirstOf(0)
	assert.Error(t, err, "key below every written record falls out of coverage")
}
