package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKellySizerValidation(t *testing.T) {
	_, err := NewKellySizer(0, 0.3)
	assert.Error(t, err)

	_, err = NewKellySizer(1.5, 0.3)
	assert.Error(t, err)

	_, err = NewKellySizer(0.25, 1.5)
	assert.Error(t, err)

	s, err := NewKellySizer(1.0, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.MaxPosition())
}

func TestCalculateKnownValues(t *testing.T) {
	full, err := NewKellySizer(1.0, 1.0)
	require.NoError(t, err)

	// Certain win with even odds takes the whole cap
	assert.InDelta(t, 1.0, full.Calculate(1.0, 1.0), 1e-9)

	// Coin flip at even odds has no edge
	assert.InDelta(t, 0.0, full.Calculate(0.5, 1.0), 1e-9)

	// Negative edge clips to zero
	assert.InDelta(t, 0.0, full.Calculate(0.3, 1.0), 1e-9)

	half, err := NewKellySizer(0.5, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, half.Calculate(0.6, 1.0), 1e-9)
}

func TestCalculateZeroOdds(t *testing.T) {
	s, err := NewKellySizer(0.25, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Calculate(0.9, 0))
	assert.Equal(t, 0.0, s.Calculate(0, 2.0))
}

func TestCalculateAlwaysWithinBounds(t *testing.T) {
	s, err := NewKellySizer(0.5, 0.3)
	require.NoError(t, err)

	for winRate := 0.0; winRate <= 1.0; winRate += 0.05 {
		for _, odds := range []float64{0, 0.1, 0.5, 1, 2, 5, 100} {
			size := s.Calculate(winRate, odds)
			assert.False(t, math.IsNaN(size))
			assert.False(t, math.IsInf(size, 0))
			assert.GreaterOrEqual(t, size, 0.0)
			assert.LessOrEqual(t, size, 0.3)
		}
	}
}

func TestCalculateWithVolatilityDamping(t *testing.T) {
	s, err := NewKellySizer(1.0, 1.0)
	require.NoError(t, err)

	base := s.Calculate(0.7, 1.5)
	damped := s.CalculateWithVolatility(0.7, 1.5, 0.5, 2.0)

	assert.Less(t, damped, base)
	assert.InDelta(t, base/(1+2.0*0.5), damped, 1e-9)

	// Zero volatility leaves the size untouched
	assert.InDelta(t, base, s.CalculateWithVolatility(0.7, 1.5, 0, 2.0), 1e-9)
}

func TestCalculateFromReturns(t *testing.T) {
	s, err := NewKellySizer(0.5, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 0.0, s.CalculateFromReturns(nil, 50))

	// All winners: odds are undefined, size is zero
	assert.Equal(t, 0.0, s.CalculateFromReturns([]float64{0.01, 0.02, 0.03}, 50))

	// All losers likewise
	assert.Equal(t, 0.0, s.CalculateFromReturns([]float64{-0.01, -0.02}, 50))

	// A profitable mix produces a positive bounded size
	mixed := []float64{0.02, -0.01, 0.03, -0.01, 0.02, -0.005, 0.025, -0.01}
	size := s.CalculateFromReturns(mixed, 50)
	assert.Greater(t, size, 0.0)
	assert.LessOrEqual(t, size, 1.0)
}

func TestCalculateFromReturnsHonorsLookback(t *testing.T) {
	s, err := NewKellySizer(0.5, 1.0)
	require.NoError(t, err)

	// Old history is profitable, recent window is all losses
	returns := make([]float64, 0, 60)
	for i := 0; i < 50; i++ {
		returns = append(returns, 0.02)
	}
	for i := 0; i < 10; i++ {
		returns = append(returns, -0.01)
	}

	assert.Equal(t, 0.0, s.CalculateFromReturns(returns, 10))
}
