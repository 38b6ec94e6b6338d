package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/keyrank"
)

func buildSimpleCollection() *keyrank.Collection {
	kps := keyrank.New()
	kps.Push(0, 0)
	kps.Push(10, 12)
	kps.Push(20, 24)
	kps.SetPositionRange(0, 36)
	return kps
}

func TestNaiveIndexBuildAndPredict(t *testing.T) {
	ctx := context.Background()
	kps := buildSimpleCollection()
	ni := BuildNaiveIndex(kps)

	assert.Equal(t, keyrank.Position(0), ni.StartPosition)
	assert.Equal(t, keyrank.Position(36), ni.EndPosition)

	kr, err := ni.Predict(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, keyrank.Key(10), kr.KeyL)
	assert.Equal(t, keyrank.Key(10), kr.KeyR)
	assert.Equal(t, keyrank.Position(0), kr.Offset)
	assert.Equal(t, keyrank.Position(36), kr.Length)
}

func TestNaiveIndexGetLoad(t *testing.T) {
	kps := buildSimpleCollection()
	ni := BuildNaiveIndex(kps)
	loads := ni.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, 36, loads[0].Max())
}
