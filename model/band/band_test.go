package band

import (
	"math/big"
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

func bandOf(x1 uint64, y1 int64, x2 uint64, y2 int64, width keyrank.Position) Model {
	return Model{
		kp1:   kpDirection{X: bigFromUint64(x1), Y: big.NewInt(y1)},
		kp2:   kpDirection{X: bigFromUint64(x2), Y: big.NewInt(y2)},
		Width: width,
	}
}

func assertSameModel(t *testing.T, got, want Model) {
	t.Helper()
	assert.Zero(t, got.kp1.X.Cmp(want.kp1.X))
	assert.Zero(t, got.kp1.Y.Cmp(want.kp1.Y))
	assert.Zero(t, got.kp2.X.Cmp(want.kp2.X))
	assert.Zero(t, got.kp2.Y.Cmp(want.kp2.Y))
	assert.Equal(t, want.Width, got.Width)
}

func TestSketchReconstructRoundTrip(t *testing.T) {
	bm := bandOf(0, 0, 105, 30, 123)
	serde := NewRecon()
	buf, err := serde.sketch(&bm, 1)
	require.NoError(t, err)
	assert.Len(t, buf, sketchSize)

	got, err := serde.reconstructRaw(buf)
	require.NoError(t, err)
	assertSameModel(t, *got, bm)
}

func TestGreedyBuilder(t *testing.T) {
	kprs := generateTestKPRs()
	b := NewGreedyBuilder(40)

	for i := 0; i < 3; i++ {
		kb, err := b.Consume(kprs[i])
		require.NoError(t, err)
		assert.Nilf(t, kb, "idx %d should not close a submodel", i)
	}

	kb3, err := b.Consume(kprs[3])
	require.NoError(t, err)
	require.NotNil(t, kb3)

	for i := 4; i < 6; i++ {
		kb, err := b.Consume(kprs[i])
		require.NoError(t, err)
		assert.Nilf(t, kb, "idx %d should not close a submodel", i)
	}

	kb6, err := b.Consume(kprs[6])
	require.NoError(t, err)
	require.NotNil(t, kb6)

	kb7, err := b.Consume(kprs[7])
	require.NoError(t, err)
	require.NotNil(t, kb7)

	report, err := b.Finalize()
	require.NoError(t, err)
	require.NotNil(t, report.MaybeKeyBuffer)
	kb8 := report.MaybeKeyBuffer

	loads := report.Serde.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, 915, loads[0].Max())

	serde := report.Serde.(*Recon)

	got3, err := serde.reconstructRaw(kb3.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got3, bandOf(0, -20, 100, 10, 27))

	got6, err := serde.reconstructRaw(kb6.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got6, bandOf(105, 10, 115, 70, 40))

	got7, err := serde.reconstructRaw(kb7.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got7, bandOf(120, 90, 120, 1000, 910))

	got8, err := serde.reconstructRaw(kb8.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got8, bandOf(131, 1000, 131, 1915, 915))
}

func TestGreedyBuilderWithLargeError(t *testing.T) {
	kprs := generateTestKPRs()
	b := NewGreedyBuilder(1500)

	for i := 0; i < 7; i++ {
		kb, err := b.Consume(kprs[i])
		require.NoError(t, err)
		assert.Nilf(t, kb, "idx %d should stay open under a large corridor", i)
	}

	kb7, err := b.Consume(kprs[7])
	require.NoError(t, err)
	require.NotNil(t, kb7)

	report, err := b.Finalize()
	require.NoError(t, err)
	require.NotNil(t, report.MaybeKeyBuffer)
	kb8 := report.MaybeKeyBuffer

	loads := report.Serde.GetLoad()
	require.Len(t, loads, 1)
	assert.Equal(t, 917, loads[0].Max())

	serde := report.Serde.(*Recon)

	got7, err := serde.reconstructRaw(kb7.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got7, bandOf(0, -910, 120, 90, 917))

	got8, err := serde.reconstructRaw(kb8.Buffer)
	require.NoError(t, err)
	assertSameModel(t, *got8, bandOf(131, 1000, 131, 1915, 915))
}

func TestPredictWithinWidth(t *testing.T) {
	bm := bandOf(0, 0, 100, 100, 10)
	r, err := bm.Predict(50)
	require.NoError(t, err)
	assert.EqualValues(t, 50, r.Offset)
	assert.EqualValues(t, 10, r.Length)
}
