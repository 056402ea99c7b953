package notify

import (
	"context"
	"fmt"
	"strings"

	"trading_bot/internal/core"
	"trading_bot/internal/store"
	"trading_bot/internal/trading/executor"
)

const usage = "Commands:\n/status - system status\n/stop - suspend trading\n/start - resume trading\n/panic - suspend and close all positions"

// StatusProvider supplies extra lines for /status replies
type StatusProvider interface {
	StatusLines(ctx context.Context) []string
}

// CommandRouter maps operator chat commands onto control actions
type CommandRouter struct {
	control  core.ControlSurface
	store    *store.MarketStore
	executor *executor.TradeExecutor
	notifier *Notifier
	extra    StatusProvider
	logger   core.ILogger
}

// NewCommandRouter wires the router. extra may be nil.
func NewCommandRouter(control core.ControlSurface, st *store.MarketStore,
	exec *executor.TradeExecutor, notifier *Notifier, extra StatusProvider,
	logger core.ILogger) *CommandRouter {
	return &CommandRouter{
		control:  control,
		store:    st,
		executor: exec,
		notifier: notifier,
		extra:    extra,
		logger:   logger.WithField("component", "command_router"),
	}
}

// Handle executes one command and returns the reply text. The reply is also
// pushed through the notifier.
func (r *CommandRouter) Handle(ctx context.Context, text string) string {
	cmd := strings.ToLower(strings.TrimSpace(text))
	r.logger.Info("Operator command received", "command", cmd)

	var reply string
	switch cmd {
	case "/status":
		reply = r.status(ctx)
	case "/stop":
		reply = r.setTrading(ctx, false, "Trading suspended")
	case "/start":
		reply = r.setTrading(ctx, true, "Trading resumed")
	case "/panic":
		reply = r.panic(ctx)
	default:
		reply = usage
	}

	r.notifier.Text(reply)
	return reply
}

func (r *CommandRouter) status(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("System status\n")

	enabled, err := r.control.TradingEnabled(ctx)
	switch {
	case err != nil:
		b.WriteString("trading: unknown (cache unreachable)\n")
	case enabled:
		b.WriteString("trading: enabled\n")
	default:
		b.WriteString("trading: disabled\n")
	}

	for _, table := range []string{store.TableOHLCV, store.TableChainMetrics, store.TableNetflows} {
		count, err := r.store.Count(ctx, table)
		if err != nil {
			b.WriteString(fmt.Sprintf("%s: unavailable\n", table))
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %d rows\n", table, count))
	}

	if err := r.control.Ping(ctx); err != nil {
		b.WriteString("cache: unreachable\n")
	} else {
		b.WriteString("cache: connected\n")
	}

	if r.extra != nil {
		for _, line := range r.extra.StatusLines(ctx) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) setTrading(ctx context.Context, enabled bool, ack string) string {
	if err := r.control.SetTradingEnabled(ctx, enabled); err != nil {
		r.logger.Error("Kill switch write failed", "enabled", enabled, "error", err)
		return fmt.Sprintf("Failed to update kill switch: %v", err)
	}
	return ack
}

func (r *CommandRouter) panic(ctx context.Context) string {
	if err := r.control.SetTradingEnabled(ctx, false); err != nil {
		// Close positions regardless: the operator asked for the exit
		r.logger.Error("Kill switch write failed during panic", "error", err)
	}

	results := r.executor.CloseAllPositions(ctx)
	closed := 0
	for _, res := range results {
		if res.Result.Status == executor.StatusSuccess {
			closed++
		}
	}

	r.notifier.Panic("operator command", closed)
	return fmt.Sprintf("Panic executed: trading suspended, %d/%d positions closed",
		closed, len(results))
}
