package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// Environment variables recognized on top of the configuration document.
const (
	EnvPort            = "PORT"
	EnvMaxConcurrency  = "MAX_CONCURRENCY"
	EnvCleanupInterval = "CACHE_CLEANUP_INTERVAL"
	EnvStrategy        = "STRATEGY"
	EnvLogs            = "LOGS"
	EnvTimeoutMs       = "TIMEOUT_MS"
	EnvCacheDir        = "CACHE_DIR"
	EnvHostsDir        = "HOSTS_DIR"
)

// Load reads the configuration document at path (a missing file yields pure
// defaults), overlays recognized environment variables, and fills built-in
// defaults. The returned config is validated and immutable.
func Load(path string, log *zap.Logger) (*GlobalConfig, error) {
	cfg := &GlobalConfig{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Info("Configuration document loaded", zap.String("path", path))
	case os.IsNotExist(err):
		log.Info("No configuration document found, using defaults", zap.String("path", path))
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg, log); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *GlobalConfig, log *zap.Logger) error {
	if err := overrideInt(EnvPort, &cfg.Port, log); err != nil {
		return err
	}
	if err := overrideInt(EnvMaxConcurrency, &cfg.ParallelRenders, log); err != nil {
		return err
	}
	if err := overrideInt(EnvCleanupInterval, &cfg.CacheCleanupIntervalMinutes, log); err != nil {
		return err
	}
	if err := overrideInt(EnvTimeoutMs, &cfg.TimeoutMs, log); err != nil {
		return err
	}
	overrideString(EnvStrategy, &cfg.Strategy, log)
	overrideString(EnvLogs, &cfg.Logs, log)
	overrideString(EnvCacheDir, &cfg.CacheDir, log)
	overrideString(EnvHostsDir, &cfg.HostsDir, log)
	return nil
}

func overrideInt(name string, target *int, log *zap.Logger) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", name, value)
	}
	*target = parsed
	log.Debug("Environment override applied", zap.String("var", name), zap.Int("value", parsed))
	return nil
}

func overrideString(name string, target *string, log *zap.Logger) {
	if value := os.Getenv(name); value != "" {
		*target = value
		log.Debug("Environment override applied", zap.String("var", name), zap.String("value", value))
	}
}

func applyDefaults(cfg *GlobalConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ParallelRenders == 0 {
		cfg.ParallelRenders = DefaultParallelRenders
	}
	if cfg.CacheCleanupIntervalMinutes == 0 {
		cfg.CacheCleanupIntervalMinutes = DefaultCleanupMinutes
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = DefaultTimeoutMs
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySmartSSR
	}
	if cfg.Logs == "" {
		cfg.Logs = LogsSSR
	}
	if cfg.RootSelector == "" {
		cfg.RootSelector = DefaultRootSelector
	}
	if len(cfg.Bots) == 0 {
		cfg.Bots = DefaultBots
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.HostsDir == "" {
		cfg.HostsDir = DefaultHostsDir
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
}
