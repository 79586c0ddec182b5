package server

import (
	"context"
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/renderx/gateway/internal/bot"
	"github.com/renderx/gateway/internal/cache"
	"github.com/renderx/gateway/internal/common/urlutil"
	"github.com/renderx/gateway/internal/config"
	"github.com/renderx/gateway/internal/optimizer"
	"github.com/renderx/gateway/internal/render"
)

var renderDevices = map[string]bool{
	cache.DeviceDesktop: true,
	cache.DeviceMobile:  true,
	cache.DeviceTablet:  true,
}

// handleRender is the auxiliary endpoint for rendering an arbitrary URL.
// Unlike the main routing path, failures here surface to the caller.
func (s *Server) handleRender(ctx *fasthttp.RequestCtx, requestID string, logger *zap.Logger) {
	ip := clientIP(ctx)
	if !s.limiter.Allow(ip) {
		s.metrics.RecordRateLimitRejection()
		logger.Warn("Rate limit exceeded", zap.String("client_ip", ip))
		s.writeError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	rawURL := string(ctx.QueryArgs().Peek("url"))
	if rawURL == "" {
		s.writeError(ctx, fasthttp.StatusBadRequest, "url parameter is required")
		return
	}

	target, err := urlutil.ValidateRenderURL(rawURL)
	if err != nil {
		logger.Warn("Rejecting unsafe render URL",
			zap.String("url", rawURL),
			zap.Error(err))
		s.writeError(ctx, fasthttp.StatusBadRequest, "invalid url")
		return
	}

	device := string(ctx.QueryArgs().Peek("device"))
	if device == "" {
		device = cache.DeviceDesktop
	}
	if !renderDevices[device] {
		s.writeError(ctx, fasthttp.StatusBadRequest, "invalid device")
		return
	}

	eff, matched := s.resolver.Effective(target.Hostname())
	if !matched {
		logger.Warn("Render target host not configured", zap.String("hostname", target.Hostname()))
		s.writeError(ctx, fasthttp.StatusForbidden, "unknown host")
		return
	}

	if eff.BotOnly() && !bot.IsBotRequest(string(ctx.UserAgent()), eff.Bots) {
		ctx.Redirect(rawURL, fasthttp.StatusFound)
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), RequestBudget)
	defer cancel()

	if entry, err := s.store.Get(reqCtx, rawURL, device); err == nil {
		s.metrics.RecordCacheHit()
		ctx.Response.Header.Set("X-Cache", "HIT")
		s.writeHTML(ctx, entry.HTML)
		return
	}
	s.metrics.RecordCacheMiss()

	job := &render.Job{
		RequestID:    requestID,
		URL:          rawURL,
		UserAgent:    renderUserAgent,
		DeviceType:   device,
		RootSelector: eff.RootSelector,
		Timeout:      eff.Timeout,
		MaxParallel:  eff.ParallelRenders,
	}

	s.metrics.RenderStarted()
	result, err := s.renderer.Render(reqCtx, job)
	s.metrics.RenderFinished()

	if err != nil {
		s.metrics.RecordRenderFailure(failureReason(err))
		logger.Error("Render failed",
			zap.String("url", rawURL),
			zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, fmt.Sprintf("render failed: %v", err))
		return
	}

	s.metrics.RecordRender(result.Duration.Seconds())

	html := result.HTML
	if eff.Strategy != config.StrategySSR {
		html = optimizer.Optimize(html, eff.Optimizer)
	}

	if err := s.store.Set(reqCtx, rawURL, device, []byte(html), eff.CacheTTL); err != nil {
		logger.Warn("Failed to cache snapshot",
			zap.String("url", rawURL),
			zap.Error(err))
	}

	ctx.Response.Header.Set("X-Cache", "MISS")
	s.writeHTML(ctx, []byte(html))
}
