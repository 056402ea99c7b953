// Package core defines the shared interfaces and domain types of the trading bot
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for logging operations
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Exchange is the capability surface shared by the live venue client and the
// simulated venue. Prices in the simulated variant still come from the live
// price source; only the ledger is virtual.
type Exchange interface {
	Name() string
	CheckHealth(ctx context.Context) error

	FetchBalance(ctx context.Context) (Balances, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]Bar, error)
	CreateOrder(ctx context.Context, symbol string, orderType OrderType, side OrderSide, amount decimal.Decimal, price *decimal.Decimal) (*Order, error)
}

// PositionFetcher is an optional venue capability. Gateways without it have
// positions derived from non-quote balances with unknown entry price.
type PositionFetcher interface {
	FetchPositions(ctx context.Context) ([]Position, error)
}

// ControlSurface is the shared flag cell consulted on every order.
// TradingEnabled must fail open: on a read error it returns true together
// with the error so callers can log and count the failure.
type ControlSurface interface {
	TradingEnabled(ctx context.Context) (bool, error)
	SetTradingEnabled(ctx context.Context, enabled bool) error
	Ping(ctx context.Context) error
}
