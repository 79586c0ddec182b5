package config

import (
	"time"

	"github.com/renderx/gateway/pkg/pattern"
)

// Resolver composes per-request effective configuration from an immutable
// GlobalConfig. Safe for concurrent use.
type Resolver struct {
	global *GlobalConfig
}

func NewResolver(global *GlobalConfig) *Resolver {
	return &Resolver{global: global}
}

// Global returns the underlying global configuration.
func (r *Resolver) Global() *GlobalConfig {
	return r.global
}

// MatchHost finds the host configuration for a hostname. Exact matches on
// active hosts win; otherwise the first active glob match is used. Returns
// nil when nothing matches.
func (r *Resolver) MatchHost(hostname string) *HostConfig {
	for i := range r.global.Hosts {
		h := &r.global.Hosts[i]
		if h.IsActive() && !pattern.IsWildcard(h.Host) && pattern.Match(h.Host, hostname) {
			return h
		}
	}
	for i := range r.global.Hosts {
		h := &r.global.Hosts[i]
		if h.IsActive() && pattern.IsWildcard(h.Host) && pattern.Match(h.Host, hostname) {
			return h
		}
	}
	return nil
}

// MatchAnyHost reports whether any active host pattern matches the hostname.
// The render endpoint uses this looser check on the target URL's own host.
func (r *Resolver) MatchAnyHost(hostname string) bool {
	return r.MatchHost(hostname) != nil
}

// MatchHostAnyState matches ignoring the active flag, so the router can tell
// an inactive host apart from an unknown one.
func (r *Resolver) MatchHostAnyState(hostname string) *HostConfig {
	for i := range r.global.Hosts {
		h := &r.global.Hosts[i]
		if !pattern.IsWildcard(h.Host) && pattern.Match(h.Host, hostname) {
			return h
		}
	}
	for i := range r.global.Hosts {
		h := &r.global.Hosts[i]
		if pattern.IsWildcard(h.Host) && pattern.Match(h.Host, hostname) {
			return h
		}
	}
	return nil
}

// ActiveHosts returns every active host configuration, in document order.
func (r *Resolver) ActiveHosts() []*HostConfig {
	var active []*HostConfig
	for i := range r.global.Hosts {
		if r.global.Hosts[i].IsActive() {
			active = append(active, &r.global.Hosts[i])
		}
	}
	return active
}

// Effective resolves the composition for a hostname. The second return is
// false when no host matched; the returned Effective then carries pure
// global defaults with a nil Host.
func (r *Resolver) Effective(hostname string) (*Effective, bool) {
	host := r.MatchHost(hostname)
	return r.EffectiveForHost(host), host != nil
}

// EffectiveForHost composes host overrides (host may be nil) over global
// defaults. Every field is host override, else global, else built-in.
func (r *Resolver) EffectiveForHost(host *HostConfig) *Effective {
	g := r.global

	eff := &Effective{
		Host:            host,
		Strategy:        g.Strategy,
		Timeout:         time.Duration(g.TimeoutMs) * time.Millisecond,
		ParallelRenders: g.ParallelRenders,
		Bots:            g.Bots,
		RootSelector:    g.RootSelector,
		CacheTTL:        time.Duration(g.CacheCleanupIntervalMinutes) * time.Minute,
	}

	var hostOptimizer *OptimizerOptions
	if host != nil {
		eff.Source = host.Source
		hostOptimizer = host.OptimizerOptions
		if host.Strategy != "" {
			eff.Strategy = host.Strategy
		}
		if host.TimeoutMs != nil {
			eff.Timeout = time.Duration(*host.TimeoutMs) * time.Millisecond
		}
		if host.ParallelRenders != nil {
			eff.ParallelRenders = *host.ParallelRenders
		}
		if len(host.Bots) > 0 {
			eff.Bots = host.Bots
		}
		if host.RootSelector != "" {
			eff.RootSelector = host.RootSelector
		}
	}

	eff.Optimizer = resolveOptimizer(g.OptimizerOptions, hostOptimizer)
	return eff
}
