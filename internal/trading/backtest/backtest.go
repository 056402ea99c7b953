// Package backtest replays historical bars through a rule and simulates a
// single-position long-only portfolio. Entirely offline: no venue I/O.
package backtest

import (
	"fmt"
	"math"

	"trading_bot/internal/core"
	"trading_bot/internal/indicator"
)

// Strategy names
const (
	StrategyRSI       = "rsi"
	StrategyBollinger = "bollinger"
)

// Default rule parameters
const (
	rsiPeriod     = 14
	rsiOversold   = 30.0
	rsiOverbought = 70.0

	bollingerPeriod = 20
	bollingerK      = 2.0
)

// hoursPerYear annualizes hourly-bar Sharpe ratios
const hoursPerYear = 24 * 365

// Config tunes the simulated portfolio
type Config struct {
	Strategy       string
	InitialBalance float64
	Commission     float64 // fraction per fill, e.g. 0.001
	Slippage       float64 // fraction per fill, adverse
}

// Trade is one completed round trip
type Trade struct {
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Return     float64 `json:"return"`
}

// Report is the outcome of one backtest run
type Report struct {
	Strategy    string    `json:"strategy"`
	TotalReturn float64   `json:"total_return"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	WinRate     float64   `json:"win_rate"`
	TotalTrades int       `json:"total_trades"`
	EquityCurve []float64 `json:"equity_curve"`
	Trades      []Trade   `json:"trades"`
}

// Engine replays bars through one rule
type Engine struct {
	cfg    Config
	logger core.ILogger
}

// New builds an engine; zero-value balance defaults to 10000
func New(cfg Config, logger core.ILogger) (*Engine, error) {
	if cfg.Strategy != StrategyRSI && cfg.Strategy != StrategyBollinger {
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.Commission < 0 || cfg.Slippage < 0 {
		return nil, fmt.Errorf("commission and slippage must be non-negative")
	}
	return &Engine{cfg: cfg, logger: logger.WithField("component", "backtest")}, nil
}

// signal is the rule output at one bar
type signal int

const (
	hold signal = iota
	enter
	exit
)

// Run replays the bars (oldest first) and reports portfolio statistics
func (e *Engine) Run(bars []core.Bar) (*Report, error) {
	minBars := bollingerPeriod + 1
	if e.cfg.Strategy == StrategyRSI {
		minBars = rsiPeriod + 2
	}
	if len(bars) < minBars {
		return nil, fmt.Errorf("need at least %d bars, got %d", minBars, len(bars))
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	signals := e.signals(closes)

	cash := e.cfg.InitialBalance
	units := 0.0
	entryPrice := 0.0
	entryTime := int64(0)

	report := &Report{
		Strategy:    e.cfg.Strategy,
		EquityCurve: make([]float64, 0, len(bars)),
	}

	for i, bar := range bars {
		switch {
		case signals[i] == enter && units == 0:
			// Buy with everything, slippage against us, commission off the top
			fill := bar.Close * (1 + e.cfg.Slippage)
			units = cash * (1 - e.cfg.Commission) / fill
			cash = 0
			entryPrice = fill
			entryTime = bar.OpenTime

		case signals[i] == exit && units > 0:
			fill := bar.Close * (1 - e.cfg.Slippage)
			cash = units * fill * (1 - e.cfg.Commission)
			report.Trades = append(report.Trades, Trade{
				EntryTime:  entryTime,
				ExitTime:   bar.OpenTime,
				EntryPrice: entryPrice,
				ExitPrice:  fill,
				Return:     fill/entryPrice - 1,
			})
			units = 0
		}

		report.EquityCurve = append(report.EquityCurve, cash+units*bar.Close)
	}

	// Liquidate any open position at the final close
	if units > 0 {
		final := bars[len(bars)-1]
		fill := final.Close * (1 - e.cfg.Slippage)
		cash = units * fill * (1 - e.cfg.Commission)
		report.Trades = append(report.Trades, Trade{
			EntryTime:  entryTime,
			ExitTime:   final.OpenTime,
			EntryPrice: entryPrice,
			ExitPrice:  fill,
			Return:     fill/entryPrice - 1,
		})
		report.EquityCurve[len(report.EquityCurve)-1] = cash
	}

	e.summarize(report)
	e.logger.Info("Backtest finished",
		"strategy", e.cfg.Strategy, "trades", report.TotalTrades,
		"total_return", report.TotalReturn, "max_drawdown", report.MaxDrawdown)
	return report, nil
}

// signals maps closes to per-bar rule outputs
func (e *Engine) signals(closes []float64) []signal {
	out := make([]signal, len(closes))

	switch e.cfg.Strategy {
	case StrategyRSI:
		rsi := indicator.RSI(closes, rsiPeriod)
		for i := range closes {
			switch {
			case math.IsNaN(rsi[i]):
			case rsi[i] < rsiOversold:
				out[i] = enter
			case rsi[i] > rsiOverbought:
				out[i] = exit
			}
		}
	case StrategyBollinger:
		upper, _, lower := indicator.Bollinger(closes, bollingerPeriod, bollingerK)
		for i := range closes {
			switch {
			case math.IsNaN(lower[i]) || math.IsNaN(upper[i]):
			// Strict breaches only: a flat market has zero-width bands and
			// must not trade
			case closes[i] < lower[i]:
				out[i] = enter
			case closes[i] > upper[i]:
				out[i] = exit
			}
		}
	}
	return out
}

// summarize fills the aggregate statistics from the curve and trade log
func (e *Engine) summarize(r *Report) {
	r.TotalTrades = len(r.Trades)

	final := r.EquityCurve[len(r.EquityCurve)-1]
	r.TotalReturn = final/e.cfg.InitialBalance - 1

	wins := 0
	for _, t := range r.Trades {
		if t.Return > 0 {
			wins++
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(wins) / float64(r.TotalTrades)
	}

	r.MaxDrawdown = maxDrawdown(r.EquityCurve)
	r.Sharpe = sharpe(r.EquityCurve)
}

// maxDrawdown is the largest peak-to-trough fraction of the curve
func maxDrawdown(curve []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpe annualizes the mean/std of per-bar equity returns, assuming hourly
// bars and zero risk-free rate
func sharpe(curve []float64) float64 {
	rets := indicator.Returns(curve)
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(hoursPerYear)
}
