// Package exchange selects and wires the trading venue.
package exchange

import (
	"fmt"
	"time"

	"trading_bot/internal/config"
	"trading_bot/internal/core"
	"trading_bot/internal/exchange/binance"
	"trading_bot/internal/exchange/paper"

	"github.com/shopspring/decimal"
)

// NewGateway builds the venue for the configured mode. PAPER wraps a live
// market-data client in the simulated ledger; LIVE trades for real.
func NewGateway(cfg *config.Config, logger core.ILogger) (core.Exchange, error) {
	timeout := time.Duration(cfg.Timeouts.NetworkSeconds) * time.Second

	client := binance.New(binance.Config{
		APIKey:    string(cfg.Exchange.APIKey),
		SecretKey: string(cfg.Exchange.SecretKey),
		BaseURL:   cfg.Exchange.BaseURL,
		Timeout:   timeout,
	}, logger)

	if cfg.IsPaper() {
		return paper.New(client, cfg.Exchange.QuoteAsset,
			decimal.NewFromFloat(cfg.Exchange.PaperInitialBalance),
			cfg.Exchange.LedgerPath, logger)
	}

	if cfg.App.Venue != "" && cfg.App.Venue != client.Name() {
		return nil, fmt.Errorf("unsupported venue %q", cfg.App.Venue)
	}
	return client, nil
}
