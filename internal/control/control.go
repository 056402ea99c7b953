// Package control implements the shared trading-enabled flag on Redis.
//
// Reads fail open: a wedged cache must not wedge the bot, so an unreachable
// backing store reports trading as enabled together with the error, and a
// metrics counter keeps the failure visible.
package control

import (
	"context"
	"fmt"
	"time"

	"trading_bot/internal/core"
	"trading_bot/pkg/telemetry"

	"github.com/go-redis/redis/v8"
)

// KeyTradingEnabled is the flag cell consulted on every order
const KeyTradingEnabled = "SYSTEM_STATUS:TRADING_ENABLED"

// Surface is a Redis-backed core.ControlSurface
type Surface struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  core.ILogger
}

// New creates a Surface from a redis URL (redis://host:port/db)
func New(redisURL string, timeout time.Duration, logger core.ILogger) (*Surface, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), timeout, logger), nil
}

// NewWithClient wraps an existing client; tests inject a mock here
func NewWithClient(client redis.UniversalClient, timeout time.Duration, logger core.ILogger) *Surface {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Surface{
		client:  client,
		timeout: timeout,
		logger:  logger.WithField("component", "control_surface"),
	}
}

// TradingEnabled reads the kill switch. An absent key means enabled. On a
// read error it returns (true, err): the caller trades on but must log.
func (s *Surface) TradingEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, KeyTradingEnabled).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		telemetry.GetGlobalMetrics().ControlReadsFailed.Add(context.Background(), 1)
		return true, fmt.Errorf("kill switch read failed: %w", err)
	}

	enabled := val != "false"
	telemetry.GetGlobalMetrics().SetTradingEnabled(enabled)
	return enabled, nil
}

// SetTradingEnabled writes the kill switch
func (s *Surface) SetTradingEnabled(ctx context.Context, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val := "true"
	if !enabled {
		val = "false"
	}
	if err := s.client.Set(ctx, KeyTradingEnabled, val, 0).Err(); err != nil {
		return fmt.Errorf("kill switch write failed: %w", err)
	}

	telemetry.GetGlobalMetrics().SetTradingEnabled(enabled)
	s.logger.Info("Kill switch updated", "trading_enabled", enabled)
	return nil
}

// Ping verifies cache reachability
func (s *Surface) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Stats returns a small summary used by /status and the /status chat command
func (s *Surface) Stats(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats := map[string]string{"connected": "true"}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]string{"connected": "false", "error": err.Error()}, err
	}

	val, err := s.client.Get(ctx, KeyTradingEnabled).Result()
	switch {
	case err == redis.Nil:
		stats["trading_enabled"] = "true"
	case err != nil:
		stats["trading_enabled"] = "unknown"
	default:
		stats["trading_enabled"] = val
	}
	return stats, nil
}

// Close releases the underlying client
func (s *Surface) Close() error {
	return s.client.Close()
}
