package keyrank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKPRs() []Range {
	// A run of 8 contiguous kprs: three short ones right after offset 90,
	// then one long kpr from offset 93 to 1000.
	return []Range{
		{KeyL: 0, KeyR: 10, Offset: 0, Length: 10},
		{KeyL: 10, KeyR: 50, Offset: 10, Length: 20},
		{KeyL: 50, KeyR: 100, Offset: 30, Length: 60},
		{KeyL: 100, KeyR: 105, Offset: 90, Length: 1},
		{KeyL: 105, KeyR: 110, Offset: 91, Length: 1},
		{KeyL: 110, KeyR: 115, Offset: 92, Length: 1},
		{KeyL: 115, KeyR: 120, Offset: 93, Length: 1000 - 93},
		{KeyL: 120, KeyR: 131, Offset: 1000, Length: 915},
	}
}

func TestCollectionPushMonotone(t *testing.T) {
	c := New()
	for _, kpr := range generateTestKPRs() {
		c.Push(kpr.KeyL, kpr.Offset)
	}
	require.Equal(t, 8, c.Len())
	assert.Equal(t, Key(0), c.At(0).Key)
	assert.Equal(t, Key(120), c.At(7).Key)
}

func TestRangeAtLastUsesBracket(t *testing.T) {
	c := New()
	c.Push(0, 0)
	c.Push(10, 10)
	c.Push(20, 30)
	c.SetPositionRange(0, 50)

	kr, err := c.RangeAt(2)
	require.NoError(t, err)
	assert.Equal(t, Position(30), kr.Offset)
	assert.Equal(t, Position(20), kr.Length)
}

func TestChunkIterCoversEverything(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Push(Key(i), Position(i*2))
	}
	c.SetPositionRange(0, 20)

	chunks := c.ChunkIter(3)
	require.Len(t, chunks, 4)

	var total int
	for _, it := range chunks {
		for {
			_, ok := it.Next()
			if !ok {
				break
			}
			total++
		}
	}
	assert.Equal(t, 10, total)
}

func TestIntervalCover(t *testing.T) {
	iv := Interval{LeftKey: 5, RightKey: 10}
	assert.True(t, iv.Cover(5))
	assert.True(t, iv.Cover(10))
	assert.False(t, iv.Cover(4))
	assert.False(t, iv.Cover(11))
	assert.True(t, iv.GreaterThan(4))
	assert.True(t, iv.LessThan(11))
}
