package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func quarterKelly() *Kelly {
	return NewKelly(Config{KellyFraction: 0.25, MinPct: 0.01, MaxPct: 0.10, DefaultVolatility: 0.10})
}

func TestKelly_Size_WithinBounds(t *testing.T) {
	size := quarterKelly().Size(200, 0.95, 1000, 0.10)
	assert.GreaterOrEqual(t, size, 10.0)
	assert.LessOrEqual(t, size, 100.0)
}

func TestKelly_Size_Degenerate(t *testing.T) {
	k := quarterKelly()
	assert.Zero(t, k.Size(0, 0.9, 1000, 0.1))
	assert.Zero(t, k.Size(-50, 0.9, 1000, 0.1))
	assert.Zero(t, k.Size(200, 0, 1000, 0.1))
	assert.Zero(t, k.Size(200, 0.9, 0, 0.1))
}

func TestKelly_Size_MonotonicInEdge(t *testing.T) {
	k := quarterKelly()
	prev := 0.0
	for edge := 1; edge <= 9000; edge += 37 {
		size := k.Size(edge, 0.95, 1000, 0.10)
		assert.GreaterOrEqual(t, size, prev, "edge=%d", edge)
		assert.GreaterOrEqual(t, size, 10.0)
		assert.LessOrEqual(t, size, 100.0)
		prev = size
	}
}

func TestKelly_Size_VolatilityDiscountCapped(t *testing.T) {
	k := NewKelly(Config{KellyFraction: 0.25, MinPct: 0, MaxPct: 1})
	calm := k.Size(2000, 0.99, 1000, 0)
	wild := k.Size(2000, 0.99, 1000, 5)
	assert.InDelta(t, calm*0.5, wild, 1e-9)
}

func TestKelly_FixedFraction(t *testing.T) {
	k := quarterKelly()
	assert.Equal(t, 10.0, k.FixedFraction(1000, 0.005))
	assert.Equal(t, 100.0, k.FixedFraction(1000, 0.2))
	assert.InDelta(t, 50.0, k.FixedFraction(1000, 0.05), 1e-9)
}

func TestWinProbability(t *testing.T) {
	assert.Equal(t, 0.98, WinProbability(true, 5000))
	assert.InDelta(t, 0.90, WinProbability(false, 0), 1e-12)
	assert.InDelta(t, 0.85, WinProbability(false, 1000), 1e-12)
	assert.Equal(t, 0.5, WinProbability(false, 20000))
}

func TestKelly_EstimateVolatility(t *testing.T) {
	assert.Equal(t, 0.10, quarterKelly().EstimateVolatility("any"))
}
