// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trading modes
const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Risk      RiskConfig      `yaml:"risk"`
	ML        MLConfig        `yaml:"ml"`
	Signals   SignalConfig    `yaml:"signals"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Chat      ChatConfig      `yaml:"chat"`
	Server    ServerConfig    `yaml:"server"`
	System    SystemConfig    `yaml:"system"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode      string   `yaml:"mode"` // PAPER or LIVE
	Venue     string   `yaml:"venue"`
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`
	TimeZone  string   `yaml:"timezone"`
}

// ExchangeConfig contains venue credentials and the paper ledger settings
type ExchangeConfig struct {
	APIKey              Secret  `yaml:"api_key"`
	SecretKey           Secret  `yaml:"secret_key"`
	BaseURL             string  `yaml:"base_url"` // Optional override for API URL
	QuoteAsset          string  `yaml:"quote_asset"`
	PaperInitialBalance float64 `yaml:"paper_initial_balance"`
	LedgerPath          string  `yaml:"ledger_path"`
}

// RiskConfig contains position sizing and safety-gate parameters
type RiskConfig struct {
	MaxPositionSize float64 `yaml:"max_position_size"`
	KellyFraction   float64 `yaml:"kelly_fraction"`
	TakeProfitMin   float64 `yaml:"take_profit_min"`
	TakeProfitMax   float64 `yaml:"take_profit_max"`
	StopLossPercent float64 `yaml:"stop_loss_percent"`
	PanicThreshold  float64 `yaml:"panic_threshold"`
}

// MLConfig contains predictor settings
type MLConfig struct {
	ModelPath string  `yaml:"model_path"`
	Threshold float64 `yaml:"threshold"`
}

// SignalConfig contains scan-tick thresholds on the composite score
type SignalConfig struct {
	BuyThreshold  float64 `yaml:"buy_threshold"`
	SellThreshold float64 `yaml:"sell_threshold"`
	UseMLFilter   bool    `yaml:"use_ml_filter"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	RedisURL     string `yaml:"redis_url"`
}

// SchedulerConfig contains job cadence settings
type SchedulerConfig struct {
	FetchSpec           string `yaml:"fetch_spec"`
	ScanSpec            string `yaml:"scan_spec"`
	OnchainRefreshHours int    `yaml:"onchain_refresh_hours"`
	OnchainSourceURL    string `yaml:"onchain_source_url"`
	MisfireGraceSeconds int    `yaml:"misfire_grace_seconds"`
	WorkerPoolSize      int    `yaml:"worker_pool_size"`
}

// ChatConfig contains operator chat platform credentials
type ChatConfig struct {
	ChannelSecret Secret `yaml:"channel_secret"`
	ChannelToken  Secret `yaml:"channel_token"`
	OperatorID    string `yaml:"operator_id"`
	APIBaseURL    string `yaml:"api_base_url"` // Optional override for push API
}

// ServerConfig contains HTTP surface settings
type ServerConfig struct {
	Port          int  `yaml:"port"`
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TimeoutConfig contains per-call timeout windows in seconds
type TimeoutConfig struct {
	NetworkSeconds int `yaml:"network_seconds"`
	ControlSeconds int `yaml:"control_seconds"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateExchangeConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateRiskConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSignalConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	mode := strings.ToUpper(c.App.Mode)
	if mode != ModePaper && mode != ModeLive {
		return ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s, %s", ModePaper, ModeLive),
		}
	}
	c.App.Mode = mode

	if len(c.App.Symbols) == 0 {
		return ValidationError{
			Field:   "app.symbols",
			Message: "at least one trading symbol is required",
		}
	}

	return nil
}

func (c *Config) validateExchangeConfig() error {
	if c.App.Mode == ModeLive {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return ValidationError{
				Field:   "exchange.api_key",
				Message: "API key and secret key are required in LIVE mode",
			}
		}
	}

	if c.App.Mode == ModePaper && c.Exchange.PaperInitialBalance <= 0 {
		return ValidationError{
			Field:   "exchange.paper_initial_balance",
			Value:   c.Exchange.PaperInitialBalance,
			Message: "initial balance must be positive in PAPER mode",
		}
	}

	return nil
}

func (c *Config) validateRiskConfig() error {
	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxPositionSize > 1 {
		return ValidationError{
			Field:   "risk.max_position_size",
			Value:   c.Risk.MaxPositionSize,
			Message: "must be in (0, 1]",
		}
	}

	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return ValidationError{
			Field:   "risk.kelly_fraction",
			Value:   c.Risk.KellyFraction,
			Message: "must be in (0, 1]",
		}
	}

	if c.Risk.StopLossPercent <= 0 || c.Risk.StopLossPercent >= 1 {
		return ValidationError{
			Field:   "risk.stop_loss_percent",
			Value:   c.Risk.StopLossPercent,
			Message: "must be in (0, 1)",
		}
	}

	if c.Risk.TakeProfitMin > c.Risk.TakeProfitMax {
		return ValidationError{
			Field:   "risk.take_profit_min",
			Value:   c.Risk.TakeProfitMin,
			Message: "must not exceed take_profit_max",
		}
	}

	if c.Risk.PanicThreshold <= 0 || c.Risk.PanicThreshold > 1 {
		return ValidationError{
			Field:   "risk.panic_threshold",
			Value:   c.Risk.PanicThreshold,
			Message: "must be in (0, 1]",
		}
	}

	return nil
}

func (c *Config) validateSignalConfig() error {
	if c.Signals.BuyThreshold <= c.Signals.SellThreshold {
		return ValidationError{
			Field:   "signals.buy_threshold",
			Value:   c.Signals.BuyThreshold,
			Message: "must be greater than sell_threshold",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// IsPaper reports whether the bot runs against the simulated venue
func (c *Config) IsPaper() bool {
	return c.App.Mode == ModePaper
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the baseline configuration; LoadConfig overlays the
// YAML file on top of it, and tests use it directly
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Mode:      ModePaper,
			Venue:     "binance",
			Symbols:   []string{"BTC/USDT"},
			Timeframe: "1m",
			TimeZone:  "UTC",
		},
		Exchange: ExchangeConfig{
			QuoteAsset:          "USDT",
			PaperInitialBalance: 10000,
			LedgerPath:          "data/paper_ledger.json",
		},
		Risk: RiskConfig{
			MaxPositionSize: 0.3,
			KellyFraction:   0.25,
			TakeProfitMin:   0.10,
			TakeProfitMax:   0.20,
			StopLossPercent: 0.05,
			PanicThreshold:  0.85,
		},
		ML: MLConfig{
			ModelPath: "data/models/latest.json",
			Threshold: 0.6,
		},
		Signals: SignalConfig{
			BuyThreshold:  70,
			SellThreshold: 30,
			UseMLFilter:   true,
		},
		Storage: StorageConfig{
			DatabasePath: "data/market.db",
			RedisURL:     "redis://localhost:6379/0",
		},
		Scheduler: SchedulerConfig{
			FetchSpec:           "5 * * * * *",
			ScanSpec:            "10 * * * * *",
			OnchainRefreshHours: 4,
			MisfireGraceSeconds: 30,
			WorkerPoolSize:      10,
		},
		Server: ServerConfig{
			Port:          8080,
			MetricsPort:   9091,
			EnableMetrics: true,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Timeouts: TimeoutConfig{
			NetworkSeconds: 30,
			ControlSeconds: 5,
		},
	}
}
