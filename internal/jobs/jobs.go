// Package jobs holds the scheduled job bodies: market data fetch, signal
// scan and on-chain refresh. Every body catches-and-logs at its top level so
// a broken fetch never stops scans, and vice versa.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"trading_bot/internal/core"
	"trading_bot/internal/indicator"
	"trading_bot/internal/risk"
	"trading_bot/internal/store"
	"trading_bot/internal/trading/executor"
	"trading_bot/pkg/concurrency"
	"trading_bot/pkg/httpclient"
	"trading_bot/pkg/retry"
	"trading_bot/pkg/telemetry"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// fetchLimit bounds the incremental OHLCV pull per tick
const fetchLimit = 5

// scanWindow is how many bars the scan tick loads per symbol
const scanWindow = 120

// returnsLookback feeds the Kelly sizer from recent bar returns
const returnsLookback = 50

// Alerter is the slice of the notifier the jobs push through. All methods
// are best-effort and must never block the tick.
type Alerter interface {
	TradeSignal(symbol string, side core.OrderSide, amount, price string)
	StopLoss(symbol string, entry, current string)
	TakeProfit(symbol string, entry, current string)
}

// Config tunes the job bodies
type Config struct {
	Symbols          []string
	Timeframe        string
	BuyThreshold     float64
	SellThreshold    float64
	UseMLFilter      bool
	QuoteAsset       string
	OnchainSourceURL string
	OnchainAsset     string
}

// Runner owns the job bodies and their dependencies
type Runner struct {
	gateway  core.Exchange
	store    *store.MarketStore
	executor *executor.TradeExecutor
	sizer    *risk.KellySizer
	alerter  Alerter
	pool     *concurrency.WorkerPool
	onchain  *httpclient.Client
	cfg      Config
	logger   core.ILogger
}

// New wires a Runner. alerter may be nil; onchain fetching is disabled when
// no source URL is configured.
func New(gateway core.Exchange, st *store.MarketStore, exec *executor.TradeExecutor,
	sizer *risk.KellySizer, alerter Alerter, pool *concurrency.WorkerPool,
	cfg Config, logger core.ILogger) *Runner {

	r := &Runner{
		gateway:  gateway,
		store:    st,
		executor: exec,
		sizer:    sizer,
		alerter:  alerter,
		pool:     pool,
		cfg:      cfg,
		logger:   logger.WithField("component", "jobs"),
	}
	if cfg.OnchainSourceURL != "" {
		r.onchain = httpclient.NewClient(cfg.OnchainSourceURL, 30*time.Second, nil)
	}
	if r.cfg.OnchainAsset == "" {
		r.cfg.OnchainAsset = "BTC"
	}
	return r
}

// Fetch pulls the latest bars for every configured symbol and persists them.
// Symbols fan out over the worker pool; the job returns when all are done.
func (r *Runner) Fetch(ctx context.Context) {
	defer r.recover("fetch")

	var wg sync.WaitGroup
	for _, symbol := range r.cfg.Symbols {
		symbol := symbol
		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			r.fetchSymbol(ctx, symbol)
		}); err != nil {
			wg.Done()
			r.logger.Error("Fetch task submission failed", "symbol", symbol, "error", err)
		}
	}
	wg.Wait()
}

func (r *Runner) fetchSymbol(ctx context.Context, symbol string) {
	bars, err := r.gateway.FetchOHLCV(ctx, symbol, r.cfg.Timeframe, 0, fetchLimit)
	if err != nil {
		r.logger.Error("OHLCV fetch failed", "symbol", symbol, "error", err)
		return
	}
	if len(bars) == 0 {
		r.logger.Warn("No new bars", "symbol", symbol)
		return
	}

	// A concurrently scanning tick can hold the write lock briefly; retry
	// busy writes instead of dropping the batch
	var inserted, duplicates int
	err = retry.Do(ctx, retry.DefaultPolicy, transientStoreErr, func() error {
		var upsertErr error
		inserted, duplicates, upsertErr = r.store.UpsertBars(ctx, bars)
		return upsertErr
	})
	if err != nil {
		r.logger.Error("Bar upsert failed", "symbol", symbol, "error", err)
		return
	}
	r.logger.Info("Market data updated",
		"symbol", symbol, "fetched", len(bars), "inserted", inserted, "duplicates", duplicates)
}

// transientStoreErr matches SQLite contention errors worth retrying
func transientStoreErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// Scan is the trading tick: composite scores, signal construction, execution
// and position monitoring.
func (r *Runner) Scan(ctx context.Context) {
	defer r.recover("scan")

	panicScore := -1.0
	z, err := r.store.LatestOnchainZScore(ctx, r.cfg.OnchainAsset)
	if err != nil {
		r.logger.Warn("On-chain z-score unavailable", "error", err)
	} else if z != nil {
		panicScore = panicFromZScore(*z)
	}

	var signals []core.Signal
	for _, symbol := range r.cfg.Symbols {
		if sig := r.scanSymbol(ctx, symbol, z); sig != nil {
			signals = append(signals, *sig)
		}
	}

	if len(signals) > 0 {
		results := r.executor.ExecuteStrategy(ctx, signals, panicScore, r.cfg.UseMLFilter)
		for _, res := range results {
			if res.Status == executor.StatusSuccess && r.alerter != nil {
				price := ""
				if res.Price != nil {
					price = res.Price.String()
				}
				r.alerter.TradeSignal(res.Symbol, res.Side, res.Amount.String(), price)
			}
		}
	}

	for _, closed := range r.executor.MonitorPositions(ctx) {
		if closed.Result.Status != executor.StatusSuccess || r.alerter == nil {
			continue
		}
		switch closed.Reason {
		case executor.ReasonStopLoss:
			r.alerter.StopLoss(closed.Symbol, closed.Entry, closed.Current)
		case executor.ReasonTakeProfit:
			r.alerter.TakeProfit(closed.Symbol, closed.Entry, closed.Current)
		}
	}
}

// scanSymbol turns one symbol's history into at most one signal
func (r *Runner) scanSymbol(ctx context.Context, symbol string, z *float64) *core.Signal {
	bars, err := r.store.QueryBars(ctx, symbol, r.cfg.Timeframe, true, scanWindow)
	if err != nil {
		r.logger.Error("Bar query failed", "symbol", symbol, "error", err)
		return nil
	}
	if len(bars) < indicator.MinCompositeBars {
		r.logger.Debug("Insufficient history for scan", "symbol", symbol, "bars", len(bars))
		return nil
	}

	score, err := indicator.CompositeScore(bars, indicator.DefaultWeights(), z)
	if err != nil {
		r.logger.Error("Composite score failed", "symbol", symbol, "error", err)
		return nil
	}
	telemetry.GetGlobalMetrics().SetCompositeScore(symbol, score)
	r.logger.Info("Symbol scanned", "symbol", symbol, "score", score)

	switch {
	case score >= r.cfg.BuyThreshold:
		return r.buySignal(ctx, symbol, bars)
	case score <= r.cfg.SellThreshold:
		return r.sellSignal(ctx, symbol)
	}
	return nil
}

// buySignal sizes a buy from the Kelly criterion over recent bar returns
func (r *Runner) buySignal(ctx context.Context, symbol string, bars []core.Bar) *core.Signal {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	sizeFrac := r.sizer.CalculateFromReturns(indicator.Returns(closes), returnsLookback)
	if sizeFrac <= 0 {
		r.logger.Info("Buy signal without Kelly edge, skipping", "symbol", symbol)
		return nil
	}

	ticker, err := r.gateway.FetchTicker(ctx, symbol)
	if err != nil {
		r.logger.Error("Ticker fetch failed during scan", "symbol", symbol, "error", err)
		return nil
	}

	balances, err := r.gateway.FetchBalance(ctx)
	if err != nil {
		r.logger.Error("Balance fetch failed during scan", "symbol", symbol, "error", err)
		return nil
	}
	freeQuote := balances[r.cfg.QuoteAsset].Free
	amount := freeQuote.Mul(decimal.NewFromFloat(sizeFrac)).Div(ticker.Ask)
	if !amount.IsPositive() {
		return nil
	}

	return &core.Signal{
		Symbol:   symbol,
		Side:     core.SideBuy,
		Amount:   amount,
		Features: buildFeatures(closes, bars),
	}
}

// sellSignal liquidates the held base asset, if any
func (r *Runner) sellSignal(ctx context.Context, symbol string) *core.Signal {
	base, _, err := core.SplitSymbol(symbol)
	if err != nil {
		r.logger.Error("Bad symbol in scan", "symbol", symbol, "error", err)
		return nil
	}

	balances, err := r.gateway.FetchBalance(ctx)
	if err != nil {
		r.logger.Error("Balance fetch failed during scan", "symbol", symbol, "error", err)
		return nil
	}
	held := balances[base].Free
	if !held.IsPositive() {
		return nil
	}

	return &core.Signal{
		Symbol: symbol,
		Side:   core.SideSell,
		Amount: held,
	}
}

// buildFeatures assembles the ML feature map from the indicator kit
func buildFeatures(closes []float64, bars []core.Bar) map[string]float64 {
	features := make(map[string]float64)

	rsi := indicator.RSI(closes, 14)
	if v := rsi[len(rsi)-1]; !math.IsNaN(v) {
		features["rsi"] = v
	}

	_, _, hist := indicator.MACD(closes, 12, 26, 9)
	if v := hist[len(hist)-1]; !math.IsNaN(v) {
		features["macd_hist"] = v
	}

	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = b.Volume
	}
	volSMA := indicator.SMA(volumes, 20)
	if avg := volSMA[len(volSMA)-1]; !math.IsNaN(avg) && avg > 0 {
		features["volume_ratio"] = volumes[len(volumes)-1] / avg
	}

	vol := indicator.Volatility(closes, 20, false)
	if v := vol[len(vol)-1]; !math.IsNaN(v) {
		features["volatility"] = v
	}
	return features
}

// panicFromZScore maps the netflow z-score onto the 0-1 panic gauge:
// neutral flow is 0.5, a +2 sigma inflow saturates at 1, a -2 sigma
// outflow relaxes to 0
func panicFromZScore(z float64) float64 {
	p := 0.5 + z/4
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// onchainRow is one record served by the on-chain source
type onchainRow struct {
	Asset            string  `json:"asset"`
	Timestamp        int64   `json:"ts"`
	ExchangeInflow   float64 `json:"exchange_inflow"`
	ExchangeOutflow  float64 `json:"exchange_outflow"`
	WhaleInflowCount *int64  `json:"whale_inflow_count,omitempty"`
}

// OnchainRefresh pulls the latest exchange flow rows and persists both the
// netflow series and the derived composite metric
func (r *Runner) OnchainRefresh(ctx context.Context) {
	defer r.recover("onchain_refresh")

	if r.onchain == nil {
		return
	}

	body, err := r.onchain.Get(ctx, "", map[string]string{"asset": r.cfg.OnchainAsset})
	if err != nil {
		r.logger.Error("On-chain source unreachable", "error", err)
		return
	}

	var rows []onchainRow
	if err := json.Unmarshal(body, &rows); err != nil {
		r.logger.Error("On-chain payload malformed", "error", err)
		return
	}

	saved := 0
	for _, row := range rows {
		netflow := row.ExchangeInflow - row.ExchangeOutflow

		if _, err := r.store.UpsertNetflow(ctx, core.Netflow{
			Asset:     row.Asset,
			Venue:     r.gateway.Name(),
			Timestamp: row.Timestamp,
			Inflow:    row.ExchangeInflow,
			Outflow:   row.ExchangeOutflow,
			Netflow:   netflow,
		}); err != nil {
			r.logger.Error("Netflow upsert failed", "asset", row.Asset, "error", err)
			continue
		}

		// Keyed exactly as LatestOnchainZScore queries them
		flow := netflow
		if _, err := r.store.UpsertChainMetric(ctx, core.ChainMetric{
			Asset:            row.Asset,
			MetricName:       "dune_composite",
			Source:           "dune",
			Timestamp:        row.Timestamp,
			Value:            netflow,
			ExchangeNetflow:  &flow,
			WhaleInflowCount: row.WhaleInflowCount,
		}); err != nil {
			r.logger.Error("Chain metric upsert failed", "asset", row.Asset, "error", err)
			continue
		}
		saved++
	}
	r.logger.Info("On-chain data refreshed", "rows", len(rows), "saved", saved)
}

// recover keeps job panics out of the scheduler thread
func (r *Runner) recover(job string) {
	if p := recover(); p != nil {
		r.logger.Error("Job panicked", "job", job, "panic", fmt.Sprintf("%v", p))
	}
}
