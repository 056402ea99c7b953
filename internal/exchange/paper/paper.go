// Package paper implements the simulated venue. Only the ledger is virtual:
// prices always come from a live price source. The ledger state (balances,
// order log, id counter) is persisted as a JSON snapshot rewritten after
// every order, so a restart resumes exactly where the last order left off.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trading_bot/internal/core"
	apperrors "trading_bot/pkg/errors"
	"trading_bot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// MarketData supplies real prices to the simulated venue
type MarketData interface {
	FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]core.Bar, error)
}

// snapshot is the persisted ledger state
type snapshot struct {
	Balances       map[string]decimal.Decimal `json:"balances"`
	OrderHistory   []core.Order               `json:"order_history"`
	OrderIDCounter int64                      `json:"order_id_counter"`
}

// AssetValuation is one line of a portfolio summary
type AssetValuation struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"`
}

// PortfolioSummary values the ledger at current prices
type PortfolioSummary struct {
	Assets           []AssetValuation `json:"assets"`
	TotalValue       decimal.Decimal  `json:"total_value"`
	InitialBalance   decimal.Decimal  `json:"initial_balance"`
	UnrealizedReturn decimal.Decimal  `json:"unrealized_return"`
}

// Exchange is the simulated venue
type Exchange struct {
	mu sync.Mutex

	balances map[string]decimal.Decimal
	history  []core.Order
	counter  int64

	market         MarketData
	quoteAsset     string
	initialBalance decimal.Decimal
	ledgerPath     string
	logger         core.ILogger
}

// New builds the simulated venue, restoring the ledger snapshot when one
// exists and seeding the quote balance otherwise
func New(market MarketData, quoteAsset string, initialBalance decimal.Decimal, ledgerPath string, logger core.ILogger) (*Exchange, error) {
	if initialBalance.IsNegative() || initialBalance.IsZero() {
		return nil, fmt.Errorf("initial balance must be positive, got %s", initialBalance)
	}

	e := &Exchange{
		balances:       map[string]decimal.Decimal{quoteAsset: initialBalance},
		market:         market,
		quoteAsset:     quoteAsset,
		initialBalance: initialBalance,
		ledgerPath:     ledgerPath,
		logger:         logger.WithField("component", "paper_exchange"),
	}

	if err := e.loadSnapshot(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exchange) loadSnapshot() error {
	data, err := os.ReadFile(e.ledgerPath)
	if os.IsNotExist(err) {
		e.logger.Info("No ledger snapshot found, starting fresh",
			"quote", e.quoteAsset, "initial_balance", e.initialBalance.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse ledger snapshot: %w", err)
	}
	for asset, amount := range snap.Balances {
		if amount.IsNegative() {
			return fmt.Errorf("corrupt snapshot: negative balance %s for %s", amount, asset)
		}
	}

	e.balances = snap.Balances
	e.history = snap.OrderHistory
	e.counter = snap.OrderIDCounter
	e.logger.Info("Ledger snapshot restored",
		"assets", len(e.balances), "orders", len(e.history), "counter", e.counter)
	return nil
}

// saveSnapshotLocked persists the ledger atomically (write-temp + rename).
// Callers must hold the mutex.
func (e *Exchange) saveSnapshotLocked() error {
	snap := snapshot{
		Balances:       e.balances,
		OrderHistory:   e.history,
		OrderIDCounter: e.counter,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger snapshot: %w", err)
	}

	dir := filepath.Dir(e.ledgerPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, e.ledgerPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Name identifies the venue
func (e *Exchange) Name() string {
	return "paper"
}

// CheckHealth verifies the price source is reachable
func (e *Exchange) CheckHealth(ctx context.Context) error {
	if checker, ok := e.market.(interface{ CheckHealth(context.Context) error }); ok {
		return checker.CheckHealth(ctx)
	}
	return nil
}

// FetchBalance returns a snapshot of the ledger. Nothing is ever on hold in
// the simulation, so used is zero and free equals total.
func (e *Exchange) FetchBalance(ctx context.Context) (core.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(core.Balances, len(e.balances))
	for asset, amount := range e.balances {
		out[asset] = core.AssetBalance{
			Free:  amount,
			Used:  decimal.Zero,
			Total: amount,
		}
	}
	return out, nil
}

// FetchTicker delegates to the live price source
func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	return e.market.FetchTicker(ctx, symbol)
}

// FetchOHLCV delegates to the live price source
func (e *Exchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]core.Bar, error) {
	return e.market.FetchOHLCV(ctx, symbol, timeframe, since, limit)
}

// CreateOrder fills an order against the virtual ledger. The whole sequence
// (price resolution, balance check, debit/credit, log append, snapshot) is
// one critical section: no caller can observe a half-applied order.
func (e *Exchange) CreateOrder(ctx context.Context, symbol string, orderType core.OrderType, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal) (*core.Order, error) {
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}
	base, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}

	execPrice, err := e.resolvePrice(ctx, symbol, orderType, side, price)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cost := amount.Mul(execPrice)

	var debitAsset string
	var debitAmount decimal.Decimal
	var creditAsset string
	var creditAmount decimal.Decimal

	if side == core.SideBuy {
		debitAsset, debitAmount = quote, cost
		creditAsset, creditAmount = base, amount
	} else {
		debitAsset, debitAmount = base, amount
		creditAsset, creditAmount = quote, cost
	}

	available := e.balances[debitAsset]
	if available.LessThan(debitAmount) {
		return nil, fmt.Errorf("%w: need %s %s, have %s",
			apperrors.ErrInsufficientBalance, debitAmount, debitAsset, available)
	}

	// Mutate, remembering enough to roll back if the snapshot write fails
	prevDebit := e.balances[debitAsset]
	prevCredit, hadCredit := e.balances[creditAsset]

	e.balances[debitAsset] = available.Sub(debitAmount)
	e.balances[creditAsset] = e.balances[creditAsset].Add(creditAmount)

	e.counter++
	order := core.Order{
		ID:        fmt.Sprintf("PAPER_%d", e.counter),
		Symbol:    symbol,
		Type:      orderType,
		Side:      side,
		Amount:    amount,
		Price:     execPrice,
		Cost:      cost,
		Status:    core.StatusClosed,
		Timestamp: time.Now().UnixMilli(),
	}
	e.history = append(e.history, order)

	if err := e.saveSnapshotLocked(); err != nil {
		// Roll back so no caller observes balances without the snapshot
		e.balances[debitAsset] = prevDebit
		if hadCredit {
			e.balances[creditAsset] = prevCredit
		} else {
			delete(e.balances, creditAsset)
		}
		e.history = e.history[:len(e.history)-1]
		e.counter--
		return nil, err
	}

	telemetry.GetGlobalMetrics().OrdersFilledTotal.Add(ctx, 1)
	e.logger.Info("Paper order filled",
		"order_id", order.ID, "symbol", symbol, "side", side,
		"amount", amount.String(), "price", execPrice.String(), "cost", cost.String())
	return &order, nil
}

// resolvePrice picks the execution price: a limit order with a price uses
// that price, anything else takes the live ask (buy) or bid (sell)
func (e *Exchange) resolvePrice(ctx context.Context, symbol string, orderType core.OrderType, side core.OrderSide, price *decimal.Decimal) (decimal.Decimal, error) {
	if orderType == core.TypeLimit && price != nil && price.IsPositive() {
		return *price, nil
	}

	ticker, err := e.market.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ticker fetch failed: %v", apperrors.ErrNetwork, err)
	}
	if side == core.SideBuy {
		return ticker.Ask, nil
	}
	return ticker.Bid, nil
}

// History returns a copy of the order log
func (e *Exchange) History() []core.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Order, len(e.history))
	copy(out, e.history)
	return out
}

// Summary values every holding at current prices
func (e *Exchange) Summary(ctx context.Context) (*PortfolioSummary, error) {
	e.mu.Lock()
	balances := make(map[string]decimal.Decimal, len(e.balances))
	for asset, amount := range e.balances {
		balances[asset] = amount
	}
	e.mu.Unlock()

	summary := &PortfolioSummary{
		InitialBalance: e.initialBalance,
		TotalValue:     decimal.Zero,
	}
	metrics := telemetry.GetGlobalMetrics()

	for asset, amount := range balances {
		if amount.IsZero() {
			continue
		}
		value := amount
		if asset != e.quoteAsset {
			ticker, err := e.market.FetchTicker(ctx, asset+"/"+e.quoteAsset)
			if err != nil {
				e.logger.Warn("Skipping unpriceable asset in summary", "asset", asset, "error", err)
				continue
			}
			value = amount.Mul(ticker.Last)
		}
		summary.Assets = append(summary.Assets, AssetValuation{Asset: asset, Amount: amount, Value: value})
		summary.TotalValue = summary.TotalValue.Add(value)
		metrics.SetLedgerEquity(asset, value.InexactFloat64())
	}

	if e.initialBalance.IsPositive() {
		summary.UnrealizedReturn = summary.TotalValue.Sub(e.initialBalance).Div(e.initialBalance)
	}
	return summary, nil
}

// Reset restores the initial ledger and rewrites the snapshot
func (e *Exchange) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.balances = map[string]decimal.Decimal{e.quoteAsset: e.initialBalance}
	e.history = nil
	e.counter = 0

	if err := e.saveSnapshotLocked(); err != nil {
		return err
	}
	e.logger.Info("Paper ledger reset", "quote", e.quoteAsset, "balance", e.initialBalance.String())
	return nil
}
