// Package server is the HTTP entrypoint: classification, static serving,
// cache lookup, and render dispatch.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/renderx/gateway/internal/bot"
	"github.com/renderx/gateway/internal/cache"
	"github.com/renderx/gateway/internal/common/requestid"
	"github.com/renderx/gateway/internal/config"
	"github.com/renderx/gateway/internal/metrics"
	"github.com/renderx/gateway/internal/optimizer"
	"github.com/renderx/gateway/internal/render"
)

const (
	// Overall budget for one request; the 504 wrapper enforces it.
	RequestBudget = 30 * time.Second

	renderUserAgent = "RenderX/1.0"

	rateLimitRequests = 100
	rateLimitWindow   = 15 * time.Minute
)

// Serving modes as they appear in the access log.
const (
	modeStatic   = "STATIC"
	modeSSR      = "SSR"
	modeSSRCache = "SSR-CACHE"
)

type Server struct {
	cfg      *config.GlobalConfig
	resolver *config.Resolver
	store    cache.Store
	renderer render.Renderer
	static   *StaticServer
	limiter  *RateLimiter
	metrics  *metrics.Collector
	logger   *zap.Logger
	cacheDir string
}

func NewServer(
	cfg *config.GlobalConfig,
	resolver *config.Resolver,
	store cache.Store,
	renderer render.Renderer,
	collector *metrics.Collector,
	cacheDir string,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		renderer: renderer,
		static:   NewStaticServer(cfg.HostsDir, logger),
		limiter:  NewRateLimiter(rateLimitRequests, rateLimitWindow),
		metrics:  collector,
		logger:   logger,
		cacheDir: cacheDir,
	}
}

// Handler returns the public request handler, wrapped so requests that
// exceed the budget answer 504.
func (s *Server) Handler() fasthttp.RequestHandler {
	return fasthttp.TimeoutWithCodeHandler(
		s.HandleRequest,
		RequestBudget,
		"request timed out",
		fasthttp.StatusGatewayTimeout,
	)
}

func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.Generate(string(ctx.Request.Header.Peek("X-Request-ID")))
	ctx.Response.Header.Set("X-Request-ID", requestID)

	logger := s.logger.With(zap.String("request_id", requestID))

	switch string(ctx.Path()) {
	case "/health":
		s.handleHealth(ctx, logger)
	case "/render":
		if !ctx.IsGet() && !ctx.IsHead() {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleRender(ctx, requestID, logger)
	case "/cache/invalidate":
		if !ctx.IsPost() {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCacheInvalidate(ctx, logger)
	case "/cache/clear":
		if !ctx.IsPost() {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCacheClear(ctx, logger)
	default:
		s.route(ctx, requestID, logger)
	}
}

// route implements the serving decision for application paths.
func (s *Server) route(ctx *fasthttp.RequestCtx, requestID string, logger *zap.Logger) {
	start := time.Now()

	cls, err := classify(ctx)
	if err != nil {
		logger.Warn("Rejecting request with malformed Origin", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusBadRequest, "invalid Origin header")
		return
	}

	// fasthttp normalizes dot segments in Path(); the raw URI is what the
	// client actually sent, and any ".." in it is a traversal attempt.
	if strings.Contains(string(ctx.Request.URI().PathOriginal()), "..") {
		logger.Warn("Rejecting path traversal attempt",
			zap.String("path", string(ctx.Request.URI().PathOriginal())))
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	requestPath := string(ctx.Path())

	// Loopback traffic from the render engine gets static files with host
	// fallthrough and never triggers another render.
	if cls.IsInternalRender {
		matched := s.resolver.MatchHost(cls.Hostname)
		s.static.ServeLoopback(ctx, matched, s.resolver.ActiveHosts(), requestPath)
		s.logAccess(logger, modeStatic, cls.Hostname, requestPath, start)
		return
	}

	matched := s.resolver.MatchHost(cls.Hostname)
	if matched == nil {
		if inactive := s.resolver.MatchHostAnyState(cls.Hostname); inactive != nil {
			logger.Warn("Host is inactive", zap.String("hostname", cls.Hostname))
			s.writeError(ctx, fasthttp.StatusServiceUnavailable, "host is inactive")
			return
		}
		logger.Warn("Unknown host", zap.String("hostname", cls.Hostname))
		s.writeError(ctx, fasthttp.StatusForbidden, "unknown host")
		return
	}

	eff := s.resolver.EffectiveForHost(matched)
	isBot := bot.IsBotRequest(string(ctx.UserAgent()), eff.Bots)

	if s.shouldRender(eff.Strategy, cls, isBot) {
		s.dispatchRender(ctx, requestID, cls, eff, logger, start)
		return
	}

	s.static.Serve(ctx, matched.Source, requestPath)
	s.metrics.RecordRequest(cls.Hostname, "static", time.Since(start).Seconds())
	s.logAccess(logger, modeStatic, cls.Hostname, requestPath, start)
}

// shouldRender applies the strategy decision table. Internal, renderx, and
// file requests always go static; that is the no-loop invariant.
func (s *Server) shouldRender(strategy string, cls *classification, isBot bool) bool {
	if cls.IsInternalRender || cls.IsRenderXRequest || cls.IsFileRequest {
		return false
	}
	switch strategy {
	case config.StrategyCSR:
		return false
	case config.StrategySSR:
		return true
	case config.StrategySmartSSR:
		return isBot
	default:
		return false
	}
}

// dispatchRender serves from cache or renders over loopback. Render failures
// degrade to the static bundle; an outage of the browser must never break
// the site for end users.
func (s *Server) dispatchRender(ctx *fasthttp.RequestCtx, requestID string, cls *classification, eff *config.Effective, logger *zap.Logger, start time.Time) {
	originalURL := string(ctx.RequestURI())

	cacheKey := cls.Origin + originalURL
	if cls.Origin == "" {
		proto := "http://"
		if ctx.IsTLS() {
			proto = "https://"
		}
		cacheKey = proto + cls.Hostname + originalURL
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), RequestBudget)
	defer cancel()

	if entry, err := s.store.Get(reqCtx, cacheKey, cache.DeviceDesktop); err == nil {
		s.metrics.RecordCacheHit()
		ctx.Response.Header.Set("X-RenderX-Cache", "HIT")
		s.writeHTML(ctx, entry.HTML)
		s.metrics.RecordRequest(cls.Hostname, "ssr-cache", time.Since(start).Seconds())
		s.logAccess(logger, modeSSRCache, cls.Hostname, originalURL, start)
		return
	}
	s.metrics.RecordCacheMiss()

	job := &render.Job{
		RequestID:    requestID,
		URL:          fmt.Sprintf("http://localhost:%d%s", s.cfg.Port, originalURL),
		Origin:       cls.Origin,
		UserAgent:    renderUserAgent,
		DeviceType:   cache.DeviceDesktop,
		RootSelector: eff.RootSelector,
		Timeout:      eff.Timeout,
		MaxParallel:  eff.ParallelRenders,
	}

	s.metrics.RenderStarted()
	result, err := s.renderer.Render(reqCtx, job)
	s.metrics.RenderFinished()

	if err != nil {
		logger.Warn("Render failed, serving static fallback",
			zap.String("hostname", cls.Hostname),
			zap.String("url", originalURL),
			zap.Error(err))
		s.metrics.RecordRenderFailure(failureReason(err))
		if !s.static.ServeIndex(ctx, eff.Source) {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
		s.metrics.RecordRequest(cls.Hostname, "static", time.Since(start).Seconds())
		s.logAccess(logger, modeStatic, cls.Hostname, originalURL, start)
		return
	}

	s.metrics.RecordRender(result.Duration.Seconds())

	html := result.HTML
	if eff.Strategy != config.StrategySSR {
		html = optimizer.Optimize(html, eff.Optimizer)
	}

	if err := s.store.Set(reqCtx, cacheKey, cache.DeviceDesktop, []byte(html), eff.CacheTTL); err != nil {
		logger.Warn("Failed to cache snapshot",
			zap.String("url", originalURL),
			zap.Error(err))
	}

	s.writeHTML(ctx, []byte(html))
	s.metrics.RecordRequest(cls.Hostname, "ssr", time.Since(start).Seconds())
	s.logAccess(logger, modeSSR, cls.Hostname, originalURL, start)
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, render.ErrAtCapacity):
		return "at_capacity"
	case errors.Is(err, render.ErrLaunchFailed):
		return "launch_failed"
	case errors.Is(err, render.ErrNavigateFailed):
		return "navigation_failed"
	case errors.Is(err, render.ErrExtractHTML):
		return "extract_failed"
	case errors.Is(err, render.ErrEmptyHTML):
		return "empty_html"
	default:
		return "other"
	}
}

func (s *Server) writeHTML(ctx *fasthttp.RequestCtx, html []byte) {
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(html)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	fmt.Fprintf(ctx, `{"error":%q}`, message)
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, body []byte) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// logAccess emits the per-request line subject to the configured logs mode:
// none suppresses everything, ssr logs only rendered traffic, all logs all.
func (s *Server) logAccess(logger *zap.Logger, mode, hostname, url string, start time.Time) {
	switch s.cfg.Logs {
	case config.LogsNone:
		return
	case config.LogsSSR:
		if mode == modeStatic {
			return
		}
	}

	logger.Info("Request served",
		zap.String("mode", mode),
		zap.String("hostname", hostname),
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)))
}
