package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType distinguishes limit and market orders
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// Order statuses
const (
	StatusClosed = "closed"
	StatusNew    = "new"
)

// Bar is one OHLCV candle keyed by (venue, symbol, timeframe, open time)
type Bar struct {
	Venue     string
	Symbol    string
	Timeframe string
	OpenTime  int64 // unix milliseconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks the candle shape invariant
func (b *Bar) Validate() error {
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	if b.Low > lo || b.High < hi {
		return fmt.Errorf("malformed bar %s %s @%d: low=%f open=%f close=%f high=%f",
			b.Symbol, b.Timeframe, b.OpenTime, b.Low, b.Open, b.Close, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %f for %s @%d", b.Volume, b.Symbol, b.OpenTime)
	}
	return nil
}

// Ticker is a venue price snapshot
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// AssetBalance is one asset's balance split
type AssetBalance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// Balances maps asset code to its balance
type Balances map[string]AssetBalance

// Order is a filled or resting order record
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Type      OrderType       `json:"type"`
	Side      OrderSide       `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Position is an open holding as seen by the executor.
// EntryPrice is nil when the venue only exposes balances.
type Position struct {
	Symbol     string
	Contracts  decimal.Decimal
	EntryPrice *decimal.Decimal
}

// Signal is one actionable output of a scan tick
type Signal struct {
	Symbol   string
	Side     OrderSide
	Price    *decimal.Decimal
	Amount   decimal.Decimal
	Features map[string]float64
}

// ChainMetric is one on-chain observation keyed by (asset, metric, source, ts)
type ChainMetric struct {
	Asset            string
	MetricName       string
	Source           string
	Timestamp        int64 // unix seconds
	Value            float64
	ExchangeNetflow  *float64
	WhaleInflowCount *int64
	Extra            map[string]interface{}
}

// Netflow is an exchange in/outflow row; Netflow = Inflow - Outflow always holds
type Netflow struct {
	Asset     string
	Venue     string
	Timestamp int64 // unix seconds
	Inflow    float64
	Outflow   float64
	Netflow   float64
}

// SplitSymbol returns the base and quote assets of a "BASE/QUOTE" pair
func SplitSymbol(symbol string) (base, quote string, err error) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			if i == 0 || i == len(symbol)-1 {
				break
			}
			return symbol[:i], symbol[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid symbol %q, want BASE/QUOTE", symbol)
}
