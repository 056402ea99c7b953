// Package store persists market data in SQLite: OHLCV bars, on-chain
// metrics, and exchange netflows, each behind a natural unique key so
// replayed fetches are idempotent.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"trading_bot/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS ohlcv (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	open_time INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (venue, symbol, timeframe, open_time)
);
CREATE TABLE IF NOT EXISTS chain_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asset TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	source TEXT NOT NULL,
	ts INTEGER NOT NULL,
	value REAL NOT NULL,
	exchange_netflow REAL,
	whale_inflow_count INTEGER,
	extra TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE (asset, metric_name, source, ts)
);
CREATE TABLE IF NOT EXISTS netflows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asset TEXT NOT NULL,
	venue TEXT NOT NULL,
	ts INTEGER NOT NULL,
	inflow REAL NOT NULL,
	outflow REAL NOT NULL,
	netflow REAL NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (asset, venue, ts)
);
`

// MarketStore is the sole writer of persisted market rows
type MarketStore struct {
	db     *sql.DB
	logger core.ILogger
}

// NewMarketStore opens (and if needed initializes) the SQLite database
func NewMarketStore(dbPath string, logger core.ILogger) (*MarketStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MarketStore{db: db, logger: logger.WithField("component", "market_store")}, nil
}

// UpsertBars writes a batch of bars in one transaction. A key collision is
// not an error: the older row wins and the duplicate is counted. The batch
// either fully commits or fully rolls back.
func (s *MarketStore) UpsertBars(ctx context.Context, bars []core.Bar) (inserted, duplicates int, err error) {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return 0, 0, fmt.Errorf("rejecting batch: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ohlcv
		(venue, symbol, timeframe, open_time, open, high, low, close, volume, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i := range bars {
		b := &bars[i]
		res, err := stmt.ExecContext(ctx, b.Venue, b.Symbol, b.Timeframe, b.OpenTime,
			b.Open, b.High, b.Low, b.Close, b.Volume, now)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert bar %s@%d: %w", b.Symbol, b.OpenTime, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			duplicates++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	if duplicates > 0 {
		s.logger.Debug("Skipped duplicate bars", "duplicates", duplicates, "inserted", inserted)
	}
	return inserted, duplicates, nil
}

// QueryBars returns bars for a symbol/timeframe ordered by open time
func (s *MarketStore) QueryBars(ctx context.Context, symbol, timeframe string, ascending bool, limit int) ([]core.Bar, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT venue, symbol, timeframe, open_time, open, high, low, close, volume
		FROM ohlcv WHERE symbol = ? AND timeframe = ? ORDER BY open_time %s LIMIT ?`, order)

	rows, err := s.db.QueryContext(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []core.Bar
	for rows.Next() {
		var b core.Bar
		if err := rows.Scan(&b.Venue, &b.Symbol, &b.Timeframe, &b.OpenTime,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Table names accepted by Count
const (
	TableOHLCV        = "ohlcv"
	TableChainMetrics = "chain_metrics"
	TableNetflows     = "netflows"
)

// Count returns the number of rows in one of the known tables
func (s *MarketStore) Count(ctx context.Context, table string) (int64, error) {
	switch table {
	case TableOHLCV, TableChainMetrics, TableNetflows:
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// UpsertChainMetric inserts one on-chain metric row; returns false on a
// duplicate key (the older row wins)
func (s *MarketStore) UpsertChainMetric(ctx context.Context, m core.ChainMetric) (bool, error) {
	var extra interface{}
	if m.Extra != nil {
		data, err := json.Marshal(m.Extra)
		if err != nil {
			return false, fmt.Errorf("failed to marshal extra payload: %w", err)
		}
		extra = string(data)
	}

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO chain_metrics
		(asset, metric_name, source, ts, value, exchange_netflow, whale_inflow_count, extra, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Asset, m.MetricName, m.Source, m.Timestamp, m.Value,
		m.ExchangeNetflow, m.WhaleInflowCount, extra, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert chain metric: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertNetflow inserts one netflow row. The netflow column is always
// recomputed as inflow - outflow so the derived invariant cannot drift.
func (s *MarketStore) UpsertNetflow(ctx context.Context, n core.Netflow) (bool, error) {
	net := n.Inflow - n.Outflow
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO netflows
		(asset, venue, ts, inflow, outflow, netflow, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Asset, n.Venue, n.Timestamp, n.Inflow, n.Outflow, net, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert netflow: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// LatestNetflows returns the n most recent netflow rows for an asset, newest first
func (s *MarketStore) LatestNetflows(ctx context.Context, asset string, n int) ([]core.Netflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT asset, venue, ts, inflow, outflow, netflow
		FROM netflows WHERE asset = ? ORDER BY ts DESC LIMIT ?`, asset, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query netflows: %w", err)
	}
	defer rows.Close()

	var flows []core.Netflow
	for rows.Next() {
		var f core.Netflow
		if err := rows.Scan(&f.Asset, &f.Venue, &f.Timestamp, &f.Inflow, &f.Outflow, &f.Netflow); err != nil {
			return nil, fmt.Errorf("failed to scan netflow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

const zscoreWindow = 30

// LatestOnchainZScore standardizes the most recent composite netflow metric
// against its trailing window. Returns nil when there is not enough history
// or the window has zero variance.
func (s *MarketStore) LatestOnchainZScore(ctx context.Context, asset string) (*float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT exchange_netflow FROM chain_metrics
		WHERE asset = ? AND metric_name = 'dune_composite' AND source = 'dune'
		AND exchange_netflow IS NOT NULL
		ORDER BY ts DESC LIMIT ?`, asset, zscoreWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain metrics: %w", err)
	}
	defer rows.Close()

	var flows []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan netflow value: %w", err)
		}
		flows = append(flows, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(flows) < 2 {
		return nil, nil
	}

	mean := 0.0
	for _, v := range flows {
		mean += v
	}
	mean /= float64(len(flows))

	variance := 0.0
	for _, v := range flows {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(flows) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return nil, nil
	}

	z := (flows[0] - mean) / std
	return &z, nil
}

// CheckHealth verifies the database connection
func (s *MarketStore) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *MarketStore) Close() error {
	return s.db.Close()
}
