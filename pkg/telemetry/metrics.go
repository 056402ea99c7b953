package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names
const (
	MetricOrdersPlacedTotal      = "trading_bot_orders_placed_total"
	MetricOrdersFilledTotal      = "trading_bot_orders_filled_total"
	MetricOrdersFilteredTotal    = "trading_bot_orders_filtered_total"
	MetricOrdersRejectedTotal    = "trading_bot_orders_rejected_total"
	MetricControlReadsFailed     = "trading_bot_control_reads_failed_total"
	MetricJobRunsTotal           = "trading_bot_job_runs_total"
	MetricJobSkipsTotal          = "trading_bot_job_skips_total"
	MetricJobDurationSeconds     = "trading_bot_job_duration_seconds"
	MetricPositionsClosedTotal   = "trading_bot_positions_closed_total"
	MetricNotificationsTotal     = "trading_bot_notifications_total"
	MetricLedgerEquity           = "trading_bot_ledger_equity"
	MetricTradingEnabled         = "trading_bot_trading_enabled"
	MetricCompositeScore         = "trading_bot_composite_score"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersFilteredTotal  metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	ControlReadsFailed   metric.Int64Counter
	JobRunsTotal         metric.Int64Counter
	JobSkipsTotal        metric.Int64Counter
	JobDurationSeconds   metric.Float64Histogram
	PositionsClosedTotal metric.Int64Counter
	NotificationsTotal   metric.Int64Counter
	LedgerEquity         metric.Float64ObservableGauge
	TradingEnabled       metric.Int64ObservableGauge
	CompositeScore       metric.Float64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	equityMap      map[string]float64
	tradingEnabled int64
	scoreMap       map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments start
// on a noop meter so recording is always safe; Setup rebinds them to the
// real exporter via InitMetrics.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			equityMap:      make(map[string]float64),
			tradingEnabled: 1,
			scoreMap:       make(map[string]float64),
		}
		_ = globalMetrics.InitMetrics(noop.NewMeterProvider().Meter("trading_bot"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders filled"))
	if err != nil {
		return err
	}

	m.OrdersFilteredTotal, err = meter.Int64Counter(MetricOrdersFilteredTotal, metric.WithDescription("Total buy signals rejected by the ML filter"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total orders rejected by a gate or the venue"))
	if err != nil {
		return err
	}

	m.ControlReadsFailed, err = meter.Int64Counter(MetricControlReadsFailed, metric.WithDescription("Kill-switch reads that failed and fell open"))
	if err != nil {
		return err
	}

	m.JobRunsTotal, err = meter.Int64Counter(MetricJobRunsTotal, metric.WithDescription("Scheduled job executions"))
	if err != nil {
		return err
	}

	m.JobSkipsTotal, err = meter.Int64Counter(MetricJobSkipsTotal, metric.WithDescription("Scheduled job firings skipped (overlap or misfire)"))
	if err != nil {
		return err
	}

	m.JobDurationSeconds, err = meter.Float64Histogram(MetricJobDurationSeconds, metric.WithDescription("Scheduled job duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.PositionsClosedTotal, err = meter.Int64Counter(MetricPositionsClosedTotal, metric.WithDescription("Positions closed by stop-loss, take-profit or panic"))
	if err != nil {
		return err
	}

	m.NotificationsTotal, err = meter.Int64Counter(MetricNotificationsTotal, metric.WithDescription("Operator notifications attempted"))
	if err != nil {
		return err
	}

	// Observables
	m.LedgerEquity, err = meter.Float64ObservableGauge(MetricLedgerEquity, metric.WithDescription("Current ledger value per asset in quote currency"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TradingEnabled, err = meter.Int64ObservableGauge(MetricTradingEnabled, metric.WithDescription("Kill switch state as last observed (1=enabled, 0=disabled)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.tradingEnabled)
			return nil
		}))
	if err != nil {
		return err
	}

	m.CompositeScore, err = meter.Float64ObservableGauge(MetricCompositeScore, metric.WithDescription("Latest composite signal score per symbol"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.scoreMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetLedgerEquity(asset string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[asset] = value
}

func (m *MetricsHolder) SetTradingEnabled(enabled bool) {
	val := int64(0)
	if enabled {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingEnabled = val
}

func (m *MetricsHolder) SetCompositeScore(symbol string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreMap[symbol] = score
}

func (m *MetricsHolder) GetLedgerEquity() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.equityMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetCompositeScore() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.scoreMap {
		res[k] = v
	}
	return res
}
