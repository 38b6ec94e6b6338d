package storageprofile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantCost(t *testing.T) {
	p := Constant{Latency: 5 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, p.Cost(1))
	assert.Equal(t, 5*time.Millisecond, p.Cost(1_000_000))
}

func TestBandwidthCost(t *testing.T) {
	b := FromMbps(1.0)
	assert.Equal(t, time.Second, b.Cost(1_000_000))
}

func TestAffineCost(t *testing.T) {
	p := NewAffine(20*time.Millisecond, 20.0)
	got := p.Cost(320_000)
	want := 20*time.Millisecond + FromMbps(20.0).Cost(320_000)
	assert.Equal(t, want, got)
}

func TestAffineSequentialCost(t *testing.T) {
	p := NewAffine(20*time.Millisecond, 20.0)
	got := SequentialCost(p, []int{1_000_000, 1_000, 1})
	want := p.Cost(1_000_000) + p.Cost(1_000) + p.Cost(1)
	assert.Equal(t, want, got)
}

func TestCongestedDiscount(t *testing.T) {
	base := Constant{Latency: 10 * time.Millisecond}
	c := Congested{Profile: base, Discount: 0.5}
	assert.Equal(t, 5*time.Millisecond, c.Cost(100))
}
