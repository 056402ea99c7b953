// Package executor gates, sizes and dispatches orders. Every order placement
// walks the same gate sequence: kill switch, panic gate (buys only), venue
// dispatch. Venue failures become error records, never panics.
package executor

import (
	"context"
	"fmt"

	"trading_bot/internal/core"
	"trading_bot/internal/ml"
	apperrors "trading_bot/pkg/errors"
	"trading_bot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Result statuses
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusFiltered = "filtered"
)

// Close reasons
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonPanic      = "panic"
)

// Config carries the executor's risk parameters
type Config struct {
	MaxPositionSize float64
	StopLossPct     float64
	TakeProfitMin   float64
	TakeProfitMax   float64
	PanicThreshold  float64
	QuoteAsset      string
}

// MLFilter is the slice of the predictor the executor consults on buys
type MLFilter interface {
	Decide(features map[string]float64) ml.Decision
}

// Result is the uniform outcome record of one placement attempt
type Result struct {
	Status         string           `json:"status"`
	OrderID        string           `json:"order_id,omitempty"`
	Symbol         string           `json:"symbol"`
	Side           core.OrderSide   `json:"side"`
	Amount         decimal.Decimal  `json:"amount"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Timestamp      int64            `json:"timestamp,omitempty"`
	Error          string           `json:"error,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Probability    float64          `json:"probability,omitempty"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// CloseResult is the outcome of one position close attempt
type CloseResult struct {
	Symbol  string `json:"symbol"`
	Reason  string `json:"reason"`
	Entry   string `json:"entry,omitempty"`
	Current string `json:"current,omitempty"`
	Result  Result `json:"result"`
}

// TradeExecutor integrates the venue, the kill switch and the ML filter
type TradeExecutor struct {
	gateway core.Exchange
	control core.ControlSurface
	filter  MLFilter
	cfg     Config
	logger  core.ILogger
}

// New builds a TradeExecutor. filter may be nil when ML filtering is off.
func New(gateway core.Exchange, control core.ControlSurface, filter MLFilter, cfg Config, logger core.ILogger) *TradeExecutor {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &TradeExecutor{
		gateway: gateway,
		control: control,
		filter:  filter,
		cfg:     cfg,
		logger:  logger.WithField("component", "trade_executor"),
	}
}

// tradingAllowed consults the kill switch. A read failure falls open: it is
// logged and counted, and trading proceeds.
func (t *TradeExecutor) tradingAllowed(ctx context.Context) bool {
	enabled, err := t.control.TradingEnabled(ctx)
	if err != nil {
		t.logger.Warn("Kill switch read failed, continuing (fail-open)", "error", err)
	}
	return enabled
}

// PlaceOrder runs the full gate sequence for one order. panicScore < 0 means
// no panic score is available for this call.
func (t *TradeExecutor) PlaceOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal, orderType core.OrderType, panicScore float64) (*Result, error) {
	metrics := telemetry.GetGlobalMetrics()

	if !t.tradingAllowed(ctx) {
		metrics.OrdersRejectedTotal.Add(ctx, 1)
		t.logger.Warn("Order blocked by kill switch", "symbol", symbol, "side", side)
		return nil, apperrors.ErrTradingSuspended
	}

	// Sells are never panic-gated: closing risk stays possible at all times
	if side == core.SideBuy && panicScore >= 0 && panicScore > t.cfg.PanicThreshold {
		metrics.OrdersRejectedTotal.Add(ctx, 1)
		t.logger.Warn("Buy blocked by panic gate",
			"symbol", symbol, "panic_score", panicScore, "threshold", t.cfg.PanicThreshold)
		return nil, fmt.Errorf("%w: score %.3f > %.3f",
			apperrors.ErrPanicTooHigh, panicScore, t.cfg.PanicThreshold)
	}

	if orderType != core.TypeLimit || price == nil {
		orderType = core.TypeMarket
	}

	metrics.OrdersPlacedTotal.Add(ctx, 1)
	order, err := t.gateway.CreateOrder(ctx, symbol, orderType, side, amount, price)
	if err != nil {
		// Venue failures are recorded, not raised
		metrics.OrdersRejectedTotal.Add(ctx, 1)
		t.logger.Error("Order dispatch failed", "symbol", symbol, "side", side, "error", err)
		return &Result{
			Status: StatusError,
			Symbol: symbol,
			Side:   side,
			Amount: amount,
			Error:  err.Error(),
		}, nil
	}

	t.logger.Info("Order placed",
		"order_id", order.ID, "symbol", symbol, "side", side, "amount", amount.String())
	return &Result{
		Status:    StatusSuccess,
		OrderID:   order.ID,
		Symbol:    symbol,
		Side:      side,
		Amount:    order.Amount,
		Price:     &order.Price,
		Timestamp: order.Timestamp,
	}, nil
}

// ExecuteStrategy fans one scan tick out over its signals. The kill switch is
// read once at entry: a tick that starts suspended places zero orders.
func (t *TradeExecutor) ExecuteStrategy(ctx context.Context, signals []core.Signal, panicScore float64, useMLFilter bool) []Result {
	if len(signals) == 0 {
		return nil
	}

	if !t.tradingAllowed(ctx) {
		t.logger.Warn("Scan tick suspended by kill switch", "signals", len(signals))
		results := make([]Result, 0, len(signals))
		for _, s := range signals {
			results = append(results, Result{
				Status: StatusError,
				Symbol: s.Symbol,
				Side:   s.Side,
				Amount: s.Amount,
				Error:  apperrors.ErrTradingSuspended.Error(),
			})
		}
		return results
	}

	metrics := telemetry.GetGlobalMetrics()
	results := make([]Result, 0, len(signals))

	for _, s := range signals {
		if useMLFilter && t.filter != nil && s.Side == core.SideBuy && len(s.Features) > 0 {
			decision := t.filter.Decide(s.Features)
			if !decision.ShouldTrade {
				metrics.OrdersFilteredTotal.Add(ctx, 1)
				t.logger.Info("Buy signal filtered",
					"symbol", s.Symbol, "probability", decision.Probability,
					"recommendation", decision.Recommendation)
				results = append(results, Result{
					Status:         StatusFiltered,
					Symbol:         s.Symbol,
					Side:           s.Side,
					Amount:         s.Amount,
					Reason:         "ml_filter",
					Probability:    decision.Probability,
					Recommendation: decision.Recommendation,
				})
				continue
			}
		}

		orderType := core.TypeMarket
		if s.Price != nil {
			orderType = core.TypeLimit
		}
		res, err := t.PlaceOrder(ctx, s.Symbol, s.Side, s.Amount, s.Price, orderType, panicScore)
		if err != nil {
			results = append(results, Result{
				Status: StatusError,
				Symbol: s.Symbol,
				Side:   s.Side,
				Amount: s.Amount,
				Error:  err.Error(),
			})
			continue
		}
		results = append(results, *res)
	}
	return results
}

// ShouldStopLoss reports whether current has fallen to or below the stop
func (t *TradeExecutor) ShouldStopLoss(entry, current decimal.Decimal) bool {
	stop := entry.Mul(decimal.NewFromFloat(1 - t.cfg.StopLossPct))
	return current.LessThanOrEqual(stop)
}

// ShouldTakeProfit reports whether current has reached the profit target
func (t *TradeExecutor) ShouldTakeProfit(entry, current decimal.Decimal) bool {
	target := entry.Mul(decimal.NewFromFloat(1 + t.cfg.TakeProfitMin))
	return current.GreaterThanOrEqual(target)
}

// MonitorPositions walks open positions and closes any that crossed their
// stop-loss or take-profit level. Positions without an entry price are
// skipped with a warning.
func (t *TradeExecutor) MonitorPositions(ctx context.Context) []CloseResult {
	positions, err := t.fetchPositions(ctx)
	if err != nil {
		t.logger.Error("Position fetch failed", "error", err)
		return nil
	}

	metrics := telemetry.GetGlobalMetrics()
	var closed []CloseResult

	for _, pos := range positions {
		if pos.EntryPrice == nil {
			t.logger.Warn("Skipping position with unknown entry price", "symbol", pos.Symbol)
			continue
		}

		ticker, err := t.gateway.FetchTicker(ctx, pos.Symbol)
		if err != nil {
			t.logger.Error("Ticker fetch failed during monitoring", "symbol", pos.Symbol, "error", err)
			continue
		}

		var reason string
		switch {
		case t.ShouldStopLoss(*pos.EntryPrice, ticker.Last):
			reason = ReasonStopLoss
		case t.ShouldTakeProfit(*pos.EntryPrice, ticker.Last):
			reason = ReasonTakeProfit
		default:
			continue
		}

		res, err := t.PlaceOrder(ctx, pos.Symbol, core.SideSell, pos.Contracts, nil, core.TypeMarket, -1)
		if err != nil {
			res = &Result{
				Status: StatusError,
				Symbol: pos.Symbol,
				Side:   core.SideSell,
				Amount: pos.Contracts,
				Error:  err.Error(),
			}
		}
		if res.Status == StatusSuccess {
			metrics.PositionsClosedTotal.Add(ctx, 1)
			t.logger.Info("Position closed",
				"symbol", pos.Symbol, "reason", reason,
				"entry", pos.EntryPrice.String(), "current", ticker.Last.String())
		}
		closed = append(closed, CloseResult{
			Symbol:  pos.Symbol,
			Reason:  reason,
			Entry:   pos.EntryPrice.String(),
			Current: ticker.Last.String(),
			Result:  *res,
		})
	}
	return closed
}

// CloseAllPositions market-sells every open position. It bypasses the kill
// switch deliberately: the panic command throws the switch first and the
// closes must still go through. It never returns an error: individual
// failures become per-position error records. Calling it with no positions
// open is a no-op.
func (t *TradeExecutor) CloseAllPositions(ctx context.Context) []CloseResult {
	positions, err := t.fetchPositions(ctx)
	if err != nil {
		t.logger.Error("Position fetch failed during close-all", "error", err)
		return nil
	}

	metrics := telemetry.GetGlobalMetrics()
	var results []CloseResult

	for _, pos := range positions {
		var res Result
		order, err := t.gateway.CreateOrder(ctx, pos.Symbol, core.TypeMarket, core.SideSell, pos.Contracts, nil)
		if err != nil {
			metrics.OrdersRejectedTotal.Add(ctx, 1)
			t.logger.Error("Close-all sell failed", "symbol", pos.Symbol, "error", err)
			res = Result{
				Status: StatusError,
				Symbol: pos.Symbol,
				Side:   core.SideSell,
				Amount: pos.Contracts,
				Error:  err.Error(),
			}
		} else {
			metrics.PositionsClosedTotal.Add(ctx, 1)
			res = Result{
				Status:    StatusSuccess,
				OrderID:   order.ID,
				Symbol:    pos.Symbol,
				Side:      core.SideSell,
				Amount:    order.Amount,
				Price:     &order.Price,
				Timestamp: order.Timestamp,
			}
		}
		results = append(results, CloseResult{Symbol: pos.Symbol, Reason: ReasonPanic, Result: res})
	}
	t.logger.Info("Close-all finished", "positions", len(positions))
	return results
}

// fetchPositions prefers the venue's native position feed and otherwise
// derives positions from non-quote balances, with unknown entry price
func (t *TradeExecutor) fetchPositions(ctx context.Context) ([]core.Position, error) {
	if fetcher, ok := t.gateway.(core.PositionFetcher); ok {
		return fetcher.FetchPositions(ctx)
	}

	balances, err := t.gateway.FetchBalance(ctx)
	if err != nil {
		return nil, err
	}

	var positions []core.Position
	for asset, bal := range balances {
		if asset == t.cfg.QuoteAsset || !bal.Total.IsPositive() {
			continue
		}
		positions = append(positions, core.Position{
			Symbol:    asset + "/" + t.cfg.QuoteAsset,
			Contracts: bal.Total,
		})
	}
	return positions, nil
}

// MaxPosition sizes the largest allowed order: the configured fraction of
// the free quote balance at the given price
func (t *TradeExecutor) MaxPosition(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %s", apperrors.ErrInvalidOrderParameter, price)
	}

	_, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}

	balances, err := t.gateway.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	free := balances[quote].Free
	return free.Mul(decimal.NewFromFloat(t.cfg.MaxPositionSize)).Div(price), nil
}
