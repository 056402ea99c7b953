// Package bootstrap wires the bot's components together and owns the
// process lifecycle: startup order, the heartbeat supervisor and graceful
// shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trading_bot/internal/control"
	"trading_bot/internal/core"
	"trading_bot/internal/exchange"
	"trading_bot/internal/infrastructure/health"
	"trading_bot/internal/infrastructure/metrics"
	"trading_bot/internal/jobs"
	"trading_bot/internal/ml"
	"trading_bot/internal/notify"
	"trading_bot/internal/risk"
	"trading_bot/internal/scheduler"
	"trading_bot/internal/server"
	"trading_bot/internal/store"
	"trading_bot/internal/trading/executor"
	"trading_bot/pkg/concurrency"
	"trading_bot/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "trading_bot"
	heartbeatInterval = 60 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// App holds the wired components of a running bot
type App struct {
	Cfg    *Config
	Logger core.ILogger

	telemetry *telemetry.Telemetry
	store     *store.MarketStore
	control   *control.Surface
	gateway   core.Exchange
	predictor *ml.Predictor
	sizer     *risk.KellySizer
	pool      *concurrency.WorkerPool
	executor  *executor.TradeExecutor
	notifier  *notify.Notifier
	router    *notify.CommandRouter
	jobs      *jobs.Runner
	scheduler *scheduler.Scheduler
	health    *health.Manager
	api       *server.Server
	metrics   *metrics.Server
}

// NewApp builds every component leaves-first. A nil error means the bot is
// ready to Run; a non-nil error means nothing was started.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup(serviceName, strings.EqualFold(cfg.System.LogLevel, "DEBUG"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger, telemetry: tel}
	if err := a.build(); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg, logger := a.Cfg, a.Logger

	st, err := store.NewMarketStore(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	a.store = st

	ctl, err := control.New(cfg.Storage.RedisURL,
		time.Duration(cfg.Timeouts.ControlSeconds)*time.Second, logger)
	if err != nil {
		return fmt.Errorf("control surface: %w", err)
	}
	a.control = ctl

	gateway, err := exchange.NewGateway(cfg, logger)
	if err != nil {
		return fmt.Errorf("exchange gateway: %w", err)
	}
	a.gateway = gateway

	a.predictor = ml.NewPredictor(cfg.ML.ModelPath, cfg.ML.Threshold, logger)
	if err := a.predictor.Reload(); err != nil {
		// A missing or malformed model disables the filter, it does not
		// block startup.
		logger.Warn("ML model unavailable, predictor disabled", "error", err)
	}

	a.sizer, err = risk.NewKellySizer(cfg.Risk.KellyFraction, cfg.Risk.MaxPositionSize)
	if err != nil {
		return fmt.Errorf("kelly sizer: %w", err)
	}

	a.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "jobs",
		MaxWorkers:  cfg.Scheduler.WorkerPoolSize,
		MaxCapacity: cfg.Scheduler.WorkerPoolSize * 10,
	}, logger)

	var filter executor.MLFilter
	if cfg.Signals.UseMLFilter {
		filter = a.predictor
	}
	a.executor = executor.New(gateway, ctl, filter, executor.Config{
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		StopLossPct:     cfg.Risk.StopLossPercent,
		TakeProfitMin:   cfg.Risk.TakeProfitMin,
		TakeProfitMax:   cfg.Risk.TakeProfitMax,
		PanicThreshold:  cfg.Risk.PanicThreshold,
		QuoteAsset:      cfg.Exchange.QuoteAsset,
	}, logger)

	var channel notify.Channel
	if cfg.Chat.ChannelToken != "" && cfg.Chat.OperatorID != "" {
		channel = notify.NewLineChannel(string(cfg.Chat.ChannelToken),
			cfg.Chat.OperatorID, cfg.Chat.APIBaseURL)
	} else {
		logger.Warn("Chat credentials not configured, notifications disabled")
	}
	a.notifier = notify.NewNotifier(channel, a.pool, logger)

	a.router = notify.NewCommandRouter(ctl, st, a.executor, a.notifier, a, logger)

	a.jobs = jobs.New(gateway, st, a.executor, a.sizer, a.notifier, a.pool, jobs.Config{
		Symbols:          cfg.App.Symbols,
		Timeframe:        cfg.App.Timeframe,
		BuyThreshold:     cfg.Signals.BuyThreshold,
		SellThreshold:    cfg.Signals.SellThreshold,
		UseMLFilter:      cfg.Signals.UseMLFilter,
		QuoteAsset:       cfg.Exchange.QuoteAsset,
		OnchainSourceURL: cfg.Scheduler.OnchainSourceURL,
	}, logger)

	if err := a.registerJobs(); err != nil {
		return err
	}

	a.health = health.NewManager(logger)
	a.health.Register("database", st.CheckHealth)
	a.health.Register("cache", ctl.Ping)
	a.health.Register("venue", gateway.CheckHealth)

	a.api = server.New(server.Config{
		Port:          cfg.Server.Port,
		ChannelSecret: string(cfg.Chat.ChannelSecret),
		Timeframe:     cfg.App.Timeframe,
	}, st, a.health, a.router, []server.StatsProvider{
		func(context.Context) (string, interface{}) { return "pool", a.pool.Stats() },
		func(context.Context) (string, interface{}) { return "scheduler", a.scheduler.Stats() },
	}, logger)

	if cfg.Server.EnableMetrics {
		a.metrics = metrics.NewServer(cfg.Server.MetricsPort, logger)
	}

	return nil
}

func (a *App) registerJobs() error {
	cfg := a.Cfg
	a.scheduler = scheduler.New(
		time.Duration(cfg.Scheduler.MisfireGraceSeconds)*time.Second, a.Logger)

	if err := a.scheduler.AddCronJob("fetch", cfg.Scheduler.FetchSpec, a.jobs.Fetch); err != nil {
		return fmt.Errorf("fetch job: %w", err)
	}
	if err := a.scheduler.AddCronJob("scan", cfg.Scheduler.ScanSpec, a.jobs.Scan); err != nil {
		return fmt.Errorf("scan job: %w", err)
	}
	if cfg.Scheduler.OnchainSourceURL != "" {
		every := time.Duration(cfg.Scheduler.OnchainRefreshHours) * time.Hour
		if err := a.scheduler.AddIntervalJob("onchain_refresh", every, a.jobs.OnchainRefresh); err != nil {
			return fmt.Errorf("onchain job: %w", err)
		}
	}
	return nil
}

// StatusLines contributes the mode and predictor state to /status replies
func (a *App) StatusLines(context.Context) []string {
	return []string{
		"mode: " + strings.ToLower(a.Cfg.App.Mode),
		"ml: " + a.predictor.State(),
	}
}

// Run starts the servers and the scheduler, then blocks until a termination
// signal or a fatal component error. Shutdown drains running jobs.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("Starting trading bot",
		"venue", a.gateway.Name(), "symbols", a.Cfg.App.Symbols)

	if a.metrics != nil {
		a.metrics.Start()
	}
	a.api.Start()
	a.scheduler.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.heartbeat(ctx)
		return nil
	})

	err := g.Wait()
	a.shutdown()

	if err != nil && err != context.Canceled {
		a.Logger.Error("Bot stopped with error", "error", err)
		return err
	}
	a.Logger.Info("Bot shut down gracefully")
	return nil
}

// heartbeat restarts the scheduler if its run loop ever dies. The original
// operator runbook expects the bot to self-heal rather than page.
func (a *App) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.scheduler.Running() {
				a.Logger.Error("Scheduler not running, restarting")
				a.scheduler.Start()
			}
		}
	}
}

func (a *App) shutdown() {
	a.Logger.Info("Shutting down")
	a.scheduler.Shutdown(true)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.api.Stop(ctx); err != nil {
		a.Logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			a.Logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	a.pool.Stop()

	if err := a.control.Close(); err != nil {
		a.Logger.Warn("Control surface close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.Logger.Warn("Store close failed", "error", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
}
