package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"trading_bot/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs the
// environment checks that go beyond schema validation
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight prepares the filesystem the bot writes into
func checkPreFlight(cfg *Config) error {
	dirs := []string{
		filepath.Dir(cfg.Storage.DatabasePath),
	}
	if cfg.IsPaper() && cfg.Exchange.LedgerPath != "" {
		dirs = append(dirs, filepath.Dir(cfg.Exchange.LedgerPath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create data directory %s: %w", dir, err)
		}
	}

	// A missing model file is tolerated at runtime (the predictor disables
	// itself), but a configured path pointing at a directory is an operator
	// mistake worth failing fast on.
	if cfg.ML.ModelPath != "" {
		if info, err := os.Stat(cfg.ML.ModelPath); err == nil && info.IsDir() {
			return fmt.Errorf("ml.model_path %s is a directory", cfg.ML.ModelPath)
		}
	}

	return nil
}
