// Package config loads the configuration document and resolves per-host
// effective settings.
package config

import (
	"fmt"
	"time"

	"github.com/renderx/gateway/internal/common/logger"
	"github.com/renderx/gateway/internal/optimizer"
)

// Serving strategies.
const (
	StrategySmartSSR = "smart-ssr" // render for bots only
	StrategySSR      = "ssr"       // render for everyone
	StrategyCSR      = "csr"       // never render
)

// Access-log modes.
const (
	LogsNone = "none"
	LogsSSR  = "ssr"
	LogsAll  = "all"
)

// Cache compression algorithms.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// Built-in defaults.
const (
	DefaultPort            = 3000
	DefaultParallelRenders = 10
	DefaultCleanupMinutes  = 60
	DefaultTimeoutMs       = 25000
	DefaultRootSelector    = "#root"
	DefaultCacheDir        = "./.cache"
	DefaultHostsDir        = "./hosts"
)

// DefaultBots is the default crawler user-agent substring list.
var DefaultBots = []string{
	"Googlebot", "bingbot", "Slurp", "DuckDuckBot", "Baiduspider",
	"YandexBot", "Applebot", "facebookexternalhit", "Twitterbot",
	"LinkedInBot", "Pinterestbot", "Slack", "WhatsApp", "TelegramBot",
	"vkShare", "GPTBot", "ChatGPT-User", "Google-Extended", "ClaudeBot",
	"Claude-Web", "GrokBot", "meta-externalagent", "meta-externalfetcher",
	"PerplexityBot", "Amazonbot", "CCBot", "ia_archiver", "YouBot",
	"Neevabot", "headlessbot",
}

// OptimizerOptions are the configurable optimizer removals. Nil fields fall
// back to the enclosing scope, then to enabled.
type OptimizerOptions struct {
	RemoveDataAttributes  *bool `json:"removeDataAttributes,omitempty"`
	RemoveAriaAttributes  *bool `json:"removeAriaAttributes,omitempty"`
	RemoveStyleAttributes *bool `json:"removeStyleAttributes,omitempty"`
	RemoveInlineStyles    *bool `json:"removeInlineStyles,omitempty"`
}

// HostConfig identifies one SPA deployment. Immutable after load.
type HostConfig struct {
	Source           string            `json:"source"`
	Host             string            `json:"host"`
	Active           *bool             `json:"active,omitempty"`
	TimeoutMs        *int              `json:"timeoutMs,omitempty"`
	ParallelRenders  *int              `json:"parallelRenders,omitempty"`
	Bots             []string          `json:"bots,omitempty"`
	Strategy         string            `json:"strategy,omitempty"`
	RootSelector     string            `json:"rootSelector,omitempty"`
	OptimizerOptions *OptimizerOptions `json:"optimizerOptions,omitempty"`
}

// IsActive reports whether the host accepts traffic (default true).
func (h *HostConfig) IsActive() bool {
	return h.Active == nil || *h.Active
}

// MetricsConfig enables the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// GlobalConfig holds process-wide defaults. Immutable after load.
type GlobalConfig struct {
	Port                        int               `json:"port"`
	ParallelRenders             int               `json:"parallelRenders"`
	Bots                        []string          `json:"bots,omitempty"`
	CacheCleanupIntervalMinutes int               `json:"cacheCleanupIntervalMinutes"`
	Strategy                    string            `json:"strategy"`
	Hosts                       []HostConfig      `json:"hosts"`
	Logs                        string            `json:"logs"`
	ClearCacheOnStartup         *bool             `json:"clearCacheOnStartup,omitempty"`
	RootSelector                string            `json:"rootSelector"`
	OptimizerOptions            *OptimizerOptions `json:"optimizerOptions,omitempty"`
	TimeoutMs                   int               `json:"timeoutMs"`
	CacheDir                    string            `json:"cacheDir"`
	HostsDir                    string            `json:"hostsDir"`
	Compression                 string            `json:"compression"`
	Log                         logger.Config     `json:"log"`
	Metrics                     MetricsConfig     `json:"metrics"`
}

// ClearOnStartup reports whether the cache is wiped on boot (default true).
func (g *GlobalConfig) ClearOnStartup() bool {
	return g.ClearCacheOnStartup == nil || *g.ClearCacheOnStartup
}

// Effective is the per-request composition of host overrides over global
// defaults. Shared-immutable: built once per lookup, never mutated.
type Effective struct {
	Host            *HostConfig // nil when resolved without a host match
	Source          string
	Strategy        string
	Timeout         time.Duration
	ParallelRenders int
	Bots            []string
	RootSelector    string
	Optimizer       optimizer.Options
	CacheTTL        time.Duration
}

// BotOnly reports whether rendering is reserved for crawlers.
func (e *Effective) BotOnly() bool {
	return e.Strategy == StrategySmartSSR || e.Strategy == StrategyCSR
}

// Validate checks enum fields after load.
func (g *GlobalConfig) Validate() error {
	switch g.Strategy {
	case StrategySmartSSR, StrategySSR, StrategyCSR:
	default:
		return fmt.Errorf("invalid strategy: %q", g.Strategy)
	}

	switch g.Logs {
	case LogsNone, LogsSSR, LogsAll:
	default:
		return fmt.Errorf("invalid logs mode: %q", g.Logs)
	}

	switch g.Compression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return fmt.Errorf("invalid compression algorithm: %q", g.Compression)
	}

	for i := range g.Hosts {
		h := &g.Hosts[i]
		if h.Host == "" {
			return fmt.Errorf("hosts[%d]: host pattern is required", i)
		}
		if h.Source == "" {
			return fmt.Errorf("hosts[%d] (%s): source is required", i, h.Host)
		}
		switch h.Strategy {
		case "", StrategySmartSSR, StrategySSR, StrategyCSR:
		default:
			return fmt.Errorf("hosts[%d] (%s): invalid strategy %q", i, h.Host, h.Strategy)
		}
	}

	return nil
}

// resolveOptimizer composes host options over global options over defaults.
func resolveOptimizer(global, host *OptimizerOptions) optimizer.Options {
	opts := optimizer.DefaultOptions()
	apply := func(o *OptimizerOptions) {
		if o == nil {
			return
		}
		if o.RemoveDataAttributes != nil {
			opts.RemoveDataAttributes = *o.RemoveDataAttributes
		}
		if o.RemoveAriaAttributes != nil {
			opts.RemoveAriaAttributes = *o.RemoveAriaAttributes
		}
		if o.RemoveStyleAttributes != nil {
			opts.RemoveStyleAttributes = *o.RemoveStyleAttributes
		}
		if o.RemoveInlineStyles != nil {
			opts.RemoveInlineStyles = *o.RemoveInlineStyles
		}
	}
	apply(global)
	apply(host)
	return opts
}
