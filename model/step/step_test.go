package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airindex-go/airindex/keyrank"
)

func generateTestKPRs() []keyrank.Range {
	return []keyrank.Range{
		{KeyL: 0, KeyR: 0, Offset: 0, Length: 7},
		{KeyL: 50, KeyR: 50, Offset: 7, Length: 3},
		{KeyL: 100, KeyR: 100, Offset: 10, Length: 20},
		{KeyL: 105, KeyR: 105, Offset: 30, Length: 20},
		{KeyL: 110, KeyR: 110, Offset: 50, Length: 20},
		{KeyL: 115, KeyR: 115, Offset: 70, Length: 20},
		{KeyL: 120, KeyR: 120, Offset: 90, Length: 910},
		{KeyL: 131, KeyR: 131, Offset: 1000, Length: 915},
	}
}

func TestGreedyCorridor(t *testing.T) {
	kprs := generateTestKPRs()
	b := NewGreedyBuilder(30, 3)

	for i := 0; i < 4; i++ {
		kb, err := b.Consume(kprs[i])
		require.NoError(t, err)
		assert.Nilf(t, kb, "idx %d should not close a submodel", i)
	}

	kb4, err := b.Consume(kprs[4])
	require.NoError(t, err)
	require.NotNil(t, kb4)
	assert.EqualValues(t, 0, kb4.Key)

	kb5, err := b.Consume(kprs[5])
	require.NoError(t, err)
	assert.Nil(t, kb5)

	kb6, err := b.Consume(kprs[6])
	require.NoError(t, err)
	require.NotNil(t, kb6)
	assert.EqualValues(t, 110, kb6.Key)

	kb7, err := b.Consume(kprs[7])
	require.NoError(t, err)
	assert.Nil(t, kb7)

	report, err := b.Finalize()
	require.NoError(t, err)
	require.NotNil(t, report.MaybeKeyBuffer)
	assert.EqualValues(t, 120, report.MaybeKeyBuffer.Key)

	loads := report.Serde.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, 915, loads[0].Max())
}

func TestGreedyCorridorWithLargeError(t *testing.T) {
	kprs := generateTestKPRs()
	b := NewGreedyBuilder(1000, 5)

	for i, kpr := range kprs {
		kb, err := b.Consume(kpr)
		require.NoError(t, err)
		assert.Nilf(t, kb, "idx %d should stay open under a large corridor", i)
	}

	report, err := b.Finalize()
	require.NoError(t, err)
	require.NotNil(t, report.MaybeKeyBuffer)
	assert.EqualValues(t, 0, report.MaybeKeyBuffer.Key)

	loads := report.Serde.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, 1000, loads[0].Max())
}

func TestSketchReconstructRoundTrip(t *testing.T) {
	stm := newModel()
	stm.push(keyrank.KeyPosition{Key: 0, Position: 0})
	stm.push(keyrank.KeyPosition{Key: 105, Position: 30})
	stm.push(keyrank.KeyPosition{Key: 110, Position: 50})

	serde := NewRecon()
	buf, err := serde.sketch(stm, 3, []int{1, 1})
	require.NoError(t, err)
	assert.Len(t, buf, 3*anchorLength)

	got, err := serde.reconstructRaw(buf)
	require.NoError(t, err)
	assert.Equal(t, stm.Anchors, got.Anchors)
}

func TestSketchReconstructRoundTripPadded(t *testing.T) {
	stm := newModel()
	stm.push(keyrank.KeyPosition{Key: 0, Position: 0})
	stm.push(keyrank.KeyPosition{Key: 131, Position: 1000})
	stm.push(keyrank.KeyPosition{Key: ^uint64(0), Position: 1915})

	serde := NewRecon()
	buf, err := serde.sketch(stm, 5, []int{1, 1})
	require.NoError(t, err)
	assert.Len(t, buf, 5*anchorLength)

	got, err := serde.reconstructRaw(buf)
	require.NoError(t, err)
	require.Len(t, got.Anchors, 5)
	assert.Equal(t, stm.Anchors[2], got.Anchors[3])
	assert.Equal(t, stm.Anchors[2], got.Anchors[4])
}

func TestPredictStraddlesAnchors(t *testing.T) {
	stm := newModel()
	stm.push(keyrank.KeyPosition{Key: 0, Position: 0})
	stm.push(keyrank.KeyPosition{Key: 105, Position: 30})
	stm.push(keyrank.KeyPosition{Key: 110, Position: 50})

	r, err := stm.Predict(50)
	require.NoError(t, err)
	assert.EqualValues(t, 0, r.Offset)
	assert.EqualValues(t, 30, r.Length)

	_, err = stm.Predict(200)
	assert.Error(t, err)
}

func TestBuilderRejectsSmallBundle(t *testing.T) {
	assert.Panics(t, func() {
		NewGreedyBuilder(10, 2)
	})
}
