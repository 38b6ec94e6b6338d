package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRopeCloneWithinSpansSegments(t *testing.T) {
	var rp Rope
	rp.Push([]byte("abc"))
	rp.Push([]byte("defg"))
	rp.Push([]byte("hi"))

	assert.Equal(t, 9, rp.Len())
	assert.Equal(t, []byte("cdefgh"), rp.CloneWithin(2, 8))
	assert.Equal(t, []byte("abcdefghi"), rp.CloneAll())
}

func TestMemAdaptorRoundTrip(t *testing.T) {
	ma := NewMemAdaptor()
	ctx := context.Background()
	require.NoError(t, ma.WriteAll(ctx, "f1", []byte("0123456789")))

	got, err := ma.ReadRange(ctx, "f1", Range{Offset: 2, Length: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)

	require.NoError(t, ma.Remove(ctx, "f1"))
	_, err = ma.ReadRange(ctx, "f1", Range{Offset: 0, Length: 1})
	assert.Error(t, err)
}
