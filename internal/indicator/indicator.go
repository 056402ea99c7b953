// Package indicator provides pure technical-factor functions over numeric
// series. No I/O happens here; warm-up positions are NaN.
package indicator

import (
	"fmt"
	"math"

	"trading_bot/internal/core"
)

// SMA returns the simple moving average; positions before one full window are NaN
func SMA(x []float64, period int) []float64 {
	out := nanSlice(len(x))
	if period <= 0 || len(x) < period {
		return out
	}

	sum := 0.0
	for i, v := range x {
		sum += v
		if i >= period {
			sum -= x[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average with alpha = 2/(period+1),
// seeded with the first observation
func EMA(x []float64, period int) []float64 {
	out := nanSlice(len(x))
	if period <= 0 || len(x) == 0 {
		return out
	}

	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the relative strength index using exponentially smoothed
// gains and losses. The first position is NaN.
func RSI(close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if period <= 0 || len(close) < 2 {
		return out
	}

	alpha := 2.0 / (float64(period) + 1.0)
	avgGain := math.Max(close[1]-close[0], 0)
	avgLoss := math.Max(close[0]-close[1], 0)
	out[1] = rsiValue(avgGain, avgLoss)

	for i := 2; i < len(close); i++ {
		delta := close[i] - close[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = alpha*gain + (1-alpha)*avgGain
		avgLoss = alpha*loss + (1-alpha)*avgLoss
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Bollinger returns the upper, middle, and lower bands
func Bollinger(close []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = SMA(close, period)
	std := rollingStd(close, period)

	upper = nanSlice(len(close))
	lower = nanSlice(len(close))
	for i := range close {
		if !math.IsNaN(middle[i]) && !math.IsNaN(std[i]) {
			upper[i] = middle[i] + k*std[i]
			lower[i] = middle[i] - k*std[i]
		}
	}
	return upper, middle, lower
}

// BollingerWidth returns (upper - lower) / middle
func BollingerWidth(close []float64, period int, k float64) []float64 {
	upper, middle, lower := Bollinger(close, period, k)
	out := nanSlice(len(close))
	for i := range close {
		if !math.IsNaN(middle[i]) && middle[i] != 0 {
			out[i] = (upper[i] - lower[i]) / middle[i]
		}
	}
	return out
}

// MACD returns the MACD line, signal line, and histogram
func MACD(close []float64, fast, slow, signalPeriod int) (macd, signal, histogram []float64) {
	emaFast := EMA(close, fast)
	emaSlow := EMA(close, slow)

	macd = make([]float64, len(close))
	for i := range close {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signal = EMA(macd, signalPeriod)

	histogram = make([]float64, len(close))
	for i := range close {
		histogram[i] = macd[i] - signal[i]
	}
	return macd, signal, histogram
}

// ATR computes the exponentially smoothed average true range
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}

	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return EMA(tr, period)
}

// AnnualizationFactor scales hourly-return volatility to a yearly figure
var AnnualizationFactor = math.Sqrt(365 * 24)

// Returns computes simple percentage returns; output length is len(close)-1
func Returns(close []float64) []float64 {
	if len(close) < 2 {
		return nil
	}
	out := make([]float64, len(close)-1)
	for i := 1; i < len(close); i++ {
		if close[i-1] == 0 {
			out[i-1] = 0
			continue
		}
		out[i-1] = close[i]/close[i-1] - 1
	}
	return out
}

// Volatility is the rolling standard deviation of returns, aligned to close.
// With annualize it is scaled by sqrt(365*24).
func Volatility(close []float64, window int, annualize bool) []float64 {
	out := nanSlice(len(close))
	rets := Returns(close)
	if rets == nil {
		return out
	}

	std := rollingStd(rets, window)
	for i := range std {
		if math.IsNaN(std[i]) {
			continue
		}
		v := std[i]
		if annualize {
			v *= AnnualizationFactor
		}
		out[i+1] = v
	}
	return out
}

// OnchainZScore standardizes each point against its trailing window
func OnchainZScore(series []float64, window int) []float64 {
	out := nanSlice(len(series))
	if window < 2 {
		return out
	}

	for i := window - 1; i < len(series); i++ {
		win := series[i-window+1 : i+1]
		mean := 0.0
		for _, v := range win {
			mean += v
		}
		mean /= float64(len(win))

		variance := 0.0
		for _, v := range win {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(win) - 1)
		std := math.Sqrt(variance)
		if std == 0 {
			continue
		}
		out[i] = (series[i] - mean) / std
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// rollingStd is the rolling sample standard deviation
func rollingStd(x []float64, window int) []float64 {
	out := nanSlice(len(x))
	if window < 2 || len(x) < window {
		return out
	}

	for i := window - 1; i < len(x); i++ {
		win := x[i-window+1 : i+1]
		mean := 0.0
		for _, v := range win {
			mean += v
		}
		mean /= float64(window)

		variance := 0.0
		for _, v := range win {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(window - 1)
		out[i] = math.Sqrt(variance)
	}
	return out
}

// Weights blends the composite sub-scores; they should sum to 1
type Weights struct {
	RSI        float64
	Trend      float64
	Volatility float64
	Volume     float64
}

// DefaultWeights returns the standard composite blend
func DefaultWeights() Weights {
	return Weights{RSI: 0.30, Trend: 0.30, Volatility: 0.20, Volume: 0.20}
}

// Thresholds for the on-chain adjustment
const (
	onchainBearishZ       = 2.0
	onchainBullishZ       = -2.0
	onchainBearishPenalty = 20.0
	onchainBullishBonus   = 10.0
)

// MinCompositeBars is the history needed for a stable composite score
const MinCompositeBars = 35

// CompositeScore blends momentum, trend, calm and participation into a
// 0-100 scalar, optionally adjusted for on-chain netflow extremes.
func CompositeScore(bars []core.Bar, w Weights, onchainZ *float64) (float64, error) {
	if len(bars) < MinCompositeBars {
		return 0, fmt.Errorf("need at least %d bars, got %d", MinCompositeBars, len(bars))
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i := range bars {
		closes[i] = bars[i].Close
		volumes[i] = bars[i].Volume
	}

	// Momentum: RSI is already 0-100
	rsiScore := last(RSI(closes, 14))
	if math.IsNaN(rsiScore) {
		return 0, fmt.Errorf("rsi not available")
	}

	// Trend: MACD line above its signal
	macd, signal, _ := MACD(closes, 12, 26, 9)
	trendScore := 0.0
	if last(macd) > last(signal) {
		trendScore = 100.0
	}

	// Calm: low volatility relative to its own recent range
	vol := Volatility(closes, 20, false)
	maxVol := 0.0
	for _, v := range vol {
		if !math.IsNaN(v) && v > maxVol {
			maxVol = v
		}
	}
	volScore := 50.0
	if maxVol > 0 {
		cur := last(vol)
		if !math.IsNaN(cur) {
			volScore = (1 - cur/maxVol) * 100
		}
	}

	// Participation: current volume against its 20-bar average
	volumeScore := 50.0
	avgVolume := last(SMA(volumes, 20))
	if !math.IsNaN(avgVolume) && avgVolume > 0 {
		volumeScore = clip(volumes[len(volumes)-1]/avgVolume*50, 0, 100)
	}

	score := w.RSI*rsiScore + w.Trend*trendScore + w.Volatility*volScore + w.Volume*volumeScore

	if onchainZ != nil {
		if *onchainZ > onchainBearishZ {
			score -= onchainBearishPenalty
		} else if *onchainZ < onchainBullishZ {
			score += onchainBullishBonus
		}
	}

	return clip(score, 0, 100), nil
}

func last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
