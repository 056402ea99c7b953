// Package risk sizes positions with a damped Kelly criterion.
package risk

import (
	"fmt"
	"math"
)

// DefaultVolatilityDamping is the k in 1/(1 + k*vol)
const DefaultVolatilityDamping = 2.0

// DefaultLookback bounds how much return history sizing considers
const DefaultLookback = 50

// KellySizer computes position sizes as a fraction of capital
type KellySizer struct {
	fraction    float64
	maxPosition float64
	minPosition float64
}

// NewKellySizer validates and builds a sizer. fraction is the share of the
// Kelly-optimal size actually taken, maxPosition caps the result.
func NewKellySizer(fraction, maxPosition float64) (*KellySizer, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("kelly fraction %f out of range (0, 1]", fraction)
	}
	if maxPosition < 0 || maxPosition > 1 {
		return nil, fmt.Errorf("max position %f out of range [0, 1]", maxPosition)
	}
	return &KellySizer{
		fraction:    fraction,
		maxPosition: maxPosition,
		minPosition: 0,
	}, nil
}

// Calculate returns the clipped fractional Kelly size. Zero odds or a
// negative edge yield zero.
func (k *KellySizer) Calculate(winRate, odds float64) float64 {
	if odds <= 0 || winRate <= 0 {
		return 0
	}
	if winRate > 1 {
		winRate = 1
	}

	kelly := (winRate*odds - (1 - winRate)) / odds
	size := kelly * k.fraction

	if size < k.minPosition || math.IsNaN(size) || math.IsInf(size, 0) {
		return k.minPosition
	}
	if size > k.maxPosition {
		return k.maxPosition
	}
	return size
}

// CalculateWithVolatility damps the Kelly size by 1/(1 + damping*vol)
func (k *KellySizer) CalculateWithVolatility(winRate, odds, vol, damping float64) float64 {
	base := k.Calculate(winRate, odds)
	if vol < 0 {
		vol = 0
	}
	size := base / (1 + damping*vol)
	if size > k.maxPosition {
		return k.maxPosition
	}
	return size
}

// CalculateFromReturns infers win rate, odds and volatility from the last
// lookback returns. No data or no losing trades yields zero.
func (k *KellySizer) CalculateFromReturns(returns []float64, lookback int) float64 {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if len(returns) > lookback {
		returns = returns[len(returns)-lookback:]
	}
	if len(returns) == 0 {
		return 0
	}

	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, r)
		}
	}
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}

	winRate := float64(len(wins)) / float64(len(returns))
	avgWin := mean(wins)
	avgLoss := math.Abs(mean(losses))
	if avgLoss == 0 {
		return 0
	}
	odds := avgWin / avgLoss

	return k.CalculateWithVolatility(winRate, odds, std(returns), DefaultVolatilityDamping)
}

// MaxPosition returns the configured cap
func (k *KellySizer) MaxPosition() float64 {
	return k.maxPosition
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func std(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := mean(x)
	variance := 0.0
	for _, v := range x {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(x) - 1)
	return math.Sqrt(variance)
}
