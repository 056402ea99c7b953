package store

import (
	"context"
	"path/filepath"
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

func newTestStore(t *testing.T) *MarketStore {
	t.Helper()
	s, err := NewMarketStore(filepath.Join(t.TempDir(), "test.db"), nopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeBar(openTime int64, close float64) core.Bar {
	return core.Bar{
		Venue:     "binance",
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		OpenTime:  openTime,
		Open:      close - 5,
		High:      close + 10,
		Low:       close - 10,
		Close:     close,
		Volume:    1.5,
	}
}

func TestUpsertBarsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []core.Bar{makeBar(1000, 50000), makeBar(2000, 50100)}

	inserted, dups, err := s.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, dups)

	// Re-ingesting the same rows leaves the table unchanged
	inserted, dups, err = s.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 2, dups)

	n, err := s.Count(ctx, TableOHLCV)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpsertBarsOlderRowWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := makeBar(1000, 50000)
	_, _, err := s.UpsertBars(ctx, []core.Bar{first})
	require.NoError(t, err)

	replay := makeBar(1000, 99999)
	replay.High = 100100
	_, dups, err := s.UpsertBars(ctx, []core.Bar{replay})
	require.NoError(t, err)
	assert.Equal(t, 1, dups)

	got, err := s.QueryBars(ctx, "BTC/USDT", "1m", true, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 50000.0, got[0].Close)
}

func TestUpsertBarsRejectsMalformedBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := makeBar(3000, 50000)
	bad.Low = bad.Close + 1 // low above close

	_, _, err := s.UpsertBars(ctx, []core.Bar{makeBar(1000, 49000), bad})
	require.Error(t, err)

	// Whole batch rolled back, including the valid row
	n, err := s.Count(ctx, TableOHLCV)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestQueryBarsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertBars(ctx, []core.Bar{makeBar(3000, 3), makeBar(1000, 1), makeBar(2000, 2)})
	require.NoError(t, err)

	asc, err := s.QueryBars(ctx, "BTC/USDT", "1m", true, 10)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, int64(1000), asc[0].OpenTime)
	assert.Equal(t, int64(3000), asc[2].OpenTime)

	desc, err := s.QueryBars(ctx, "BTC/USDT", "1m", false, 2)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, int64(3000), desc[0].OpenTime)
}

func TestCountUnknownTable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Count(context.Background(), "users; DROP TABLE ohlcv")
	assert.Error(t, err)
}

func TestUpsertNetflowPreservesInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Deliberately inconsistent input: the stored netflow must be recomputed
	inserted, err := s.UpsertNetflow(ctx, core.Netflow{
		Asset: "BTC", Venue: "binance", Timestamp: 100,
		Inflow: 500, Outflow: 200, Netflow: -42,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	flows, err := s.LatestNetflows(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, 300.0, flows[0].Netflow)
	assert.Equal(t, flows[0].Inflow-flows[0].Outflow, flows[0].Netflow)

	// Duplicate key is silently skipped
	inserted, err = s.UpsertNetflow(ctx, core.Netflow{
		Asset: "BTC", Venue: "binance", Timestamp: 100, Inflow: 1, Outflow: 1,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestLatestNetflowsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 300, 200} {
		_, err := s.UpsertNetflow(ctx, core.Netflow{Asset: "BTC", Venue: "binance", Timestamp: ts, Inflow: float64(ts)})
		require.NoError(t, err)
	}

	flows, err := s.LatestNetflows(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, int64(300), flows[0].Timestamp)
	assert.Equal(t, int64(200), flows[1].Timestamp)
}

func metricWithNetflow(ts int64, netflow float64) core.ChainMetric {
	nf := netflow
	return core.ChainMetric{
		Asset:           "BTC",
		MetricName:      "dune_composite",
		Source:          "dune",
		Timestamp:       ts,
		Value:           netflow,
		ExchangeNetflow: &nf,
	}
}

func TestLatestOnchainZScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Not enough history
	z, err := s.LatestOnchainZScore(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, z)

	_, err = s.UpsertChainMetric(ctx, metricWithNetflow(1, 100))
	require.NoError(t, err)
	z, err = s.LatestOnchainZScore(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, z)

	// Zero variance
	_, err = s.UpsertChainMetric(ctx, metricWithNetflow(2, 100))
	require.NoError(t, err)
	z, err = s.LatestOnchainZScore(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, z)

	// A spike produces a positive z-score
	_, err = s.UpsertChainMetric(ctx, metricWithNetflow(3, 1000))
	require.NoError(t, err)
	z, err = s.LatestOnchainZScore(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, z)
	assert.Greater(t, *z, 1.0)
}

func TestUpsertChainMetricDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := metricWithNetflow(10, 5)
	m.Extra = map[string]interface{}{"query_id": 123}

	inserted, err := s.UpsertChainMetric(ctx, m)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertChainMetric(ctx, m)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.Count(ctx, TableChainMetrics)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
