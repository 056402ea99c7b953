package backtest

import (
	"testing"

	"trading_bot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

// barsFromCloses builds hourly bars around a close series
func barsFromCloses(closes []float64) []core.Bar {
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		bars[i] = core.Bar{
			Venue:     "binance",
			Symbol:    "BTC/USDT",
			Timeframe: "1h",
			OpenTime:  int64(i) * 3600_000,
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

// vShape declines for down bars then recovers for up bars
func vShape(down, up int) []float64 {
	closes := make([]float64, 0, down+up)
	price := 100.0
	for i := 0; i < down; i++ {
		price *= 0.99
		closes = append(closes, price)
	}
	for i := 0; i < up; i++ {
		price *= 1.012
		closes = append(closes, price)
	}
	return closes
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Strategy: "momentum"}, nopLogger{})
	assert.Error(t, err)

	_, err = New(Config{Strategy: StrategyRSI, Commission: -0.1}, nopLogger{})
	assert.Error(t, err)

	e, err := New(Config{Strategy: StrategyRSI}, nopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRunRejectsShortHistory(t *testing.T) {
	e, err := New(Config{Strategy: StrategyRSI, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	_, err = e.Run(barsFromCloses([]float64{100, 101, 102}))
	assert.Error(t, err)
}

func TestRSIRoundTrip(t *testing.T) {
	e, err := New(Config{Strategy: StrategyRSI, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	// The rule reacts to the very first declines, so keep the down leg
	// short: the entry then lands near the bottom and the recovery exit
	// is profitable.
	bars := barsFromCloses(vShape(3, 40))
	report, err := e.Run(bars)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.TotalTrades, 1, "a V-shaped market must trade")
	assert.Len(t, report.EquityCurve, len(bars))
	assert.GreaterOrEqual(t, report.WinRate, 0.0)
	assert.LessOrEqual(t, report.WinRate, 1.0)
	assert.GreaterOrEqual(t, report.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, report.MaxDrawdown, 1.0)

	assert.Greater(t, report.TotalReturn, 0.0)
}

func TestTradesNeverOverlap(t *testing.T) {
	e, err := New(Config{Strategy: StrategyRSI, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	// Two full cycles
	closes := append(vShape(30, 40), vShape(30, 40)...)
	report, err := e.Run(barsFromCloses(closes))
	require.NoError(t, err)

	for i, tr := range report.Trades {
		assert.LessOrEqual(t, tr.EntryTime, tr.ExitTime)
		if i > 0 {
			assert.GreaterOrEqual(t, tr.EntryTime, report.Trades[i-1].ExitTime,
				"single-position portfolio cannot hold two trades at once")
		}
	}
}

func TestFrictionReducesReturn(t *testing.T) {
	bars := barsFromCloses(vShape(30, 40))

	free, err := New(Config{Strategy: StrategyRSI, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)
	costly, err := New(Config{
		Strategy:       StrategyRSI,
		InitialBalance: 10000,
		Commission:     0.001,
		Slippage:       0.0005,
	}, nopLogger{})
	require.NoError(t, err)

	freeReport, err := free.Run(bars)
	require.NoError(t, err)
	costlyReport, err := costly.Run(bars)
	require.NoError(t, err)

	require.Equal(t, freeReport.TotalTrades, costlyReport.TotalTrades)
	assert.Less(t, costlyReport.TotalReturn, freeReport.TotalReturn)
}

func TestOpenPositionLiquidatedAtEnd(t *testing.T) {
	e, err := New(Config{Strategy: StrategyRSI, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	// A pure decline enters and never sees an exit signal
	bars := barsFromCloses(vShape(40, 0))
	report, err := e.Run(bars)
	require.NoError(t, err)

	require.GreaterOrEqual(t, report.TotalTrades, 1)
	lastTrade := report.Trades[len(report.Trades)-1]
	assert.Equal(t, bars[len(bars)-1].OpenTime, lastTrade.ExitTime)
	assert.Less(t, report.TotalReturn, 0.0, "buying a falling market loses")
}

func TestBollingerStrategyTradesOnBreaches(t *testing.T) {
	e, err := New(Config{Strategy: StrategyBollinger, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	// Quiet market, sharp drop through the lower band, quiet again, sharp
	// rally through the upper band
	closes := make([]float64, 0, 80)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 25; i++ {
		closes = append(closes, 90)
	}
	for i := 0; i < 25; i++ {
		closes = append(closes, 115)
	}

	report, err := e.Run(barsFromCloses(closes))
	require.NoError(t, err)

	assert.Equal(t, StrategyBollinger, report.Strategy)
	require.GreaterOrEqual(t, report.TotalTrades, 1, "band breaches must trade")
	assert.Len(t, report.EquityCurve, 80)
	// Bought near 90, sold near 115
	assert.Greater(t, report.TotalReturn, 0.0)
}

func TestFlatMarketProducesNoTrades(t *testing.T) {
	e, err := New(Config{Strategy: StrategyBollinger, InitialBalance: 10000}, nopLogger{})
	require.NoError(t, err)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	report, err := e.Run(barsFromCloses(closes))
	require.NoError(t, err)

	assert.Equal(t, 0, report.TotalTrades)
	assert.InDelta(t, 0.0, report.TotalReturn, 1e-12)
	assert.Equal(t, 0.0, report.Sharpe)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, maxDrawdown([]float64{100, 200, 100, 150}), 1e-12)
	assert.InDelta(t, 0.0, maxDrawdown([]float64{100, 110, 120}), 1e-12)
}
