package server

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/renderx/gateway/internal/cache"
	"github.com/renderx/gateway/internal/config"
	"github.com/renderx/gateway/internal/render"
)

const (
	chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	botUA    = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

type fixture struct {
	server *Server
	store  *cache.MemoryStore
	stub   *render.Stub
	cfg    *config.GlobalConfig
}

type hostFixture struct {
	cfg   config.HostConfig
	files map[string]string
}

func newFixture(t *testing.T, hosts ...hostFixture) *fixture {
	t.Helper()

	hostsDir := t.TempDir()
	cfg := &config.GlobalConfig{HostsDir: hostsDir, CacheDir: t.TempDir()}

	for _, h := range hosts {
		cfg.Hosts = append(cfg.Hosts, h.cfg)
		for name, content := range h.files {
			path := filepath.Join(hostsDir, h.cfg.Source, name)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		}
	}

	loadDefaults(cfg)

	store := cache.NewMemoryStore()
	stub := &render.Stub{HTML: `<html><head><script src="/b.js"></script></head><body><div id="root"><p>rendered content</p></div></body></html>`}

	srv := NewServer(cfg, config.NewResolver(cfg), store, stub, nil, cfg.CacheDir, zap.NewNop())
	return &fixture{server: srv, store: store, stub: stub, cfg: cfg}
}

// loadDefaults mirrors the loader's default pass for hand-built configs.
func loadDefaults(cfg *config.GlobalConfig) {
	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}
	if cfg.ParallelRenders == 0 {
		cfg.ParallelRenders = config.DefaultParallelRenders
	}
	if cfg.CacheCleanupIntervalMinutes == 0 {
		cfg.CacheCleanupIntervalMinutes = config.DefaultCleanupMinutes
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = config.DefaultTimeoutMs
	}
	if cfg.Strategy == "" {
		cfg.Strategy = config.StrategySmartSSR
	}
	if cfg.Logs == "" {
		cfg.Logs = config.LogsSSR
	}
	if cfg.RootSelector == "" {
		cfg.RootSelector = config.DefaultRootSelector
	}
	if len(cfg.Bots) == 0 {
		cfg.Bots = config.DefaultBots
	}
}

func appHost(strategy string) hostFixture {
	return hostFixture{
		cfg: config.HostConfig{Host: "app.example", Source: "app", Strategy: strategy},
		files: map[string]string{
			"index.html":    `<html><body><div id="root"></div><p>app index</p></body></html>`,
			"assets/app.js": `console.log("bundle")`,
		},
	}
}

func doRequest(f *fixture, method, uri string, configure func(*fasthttp.Request)) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if configure != nil {
		configure(&req)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	f.server.HandleRequest(ctx)
	return ctx
}

func get(f *fixture, uri, origin, ua string) *fasthttp.RequestCtx {
	return doRequest(f, fasthttp.MethodGet, uri, func(req *fasthttp.Request) {
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if ua != "" {
			req.Header.SetUserAgent(ua)
		}
		req.SetHost("app.example")
	})
}

func TestRoute_RegularUserSmartSSRServesStatic(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := get(f, "/", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "app index")
	assert.Empty(t, f.stub.Jobs(), "no render for a regular user")
	assert.Zero(t, f.store.Len(), "no cache write")
	assert.NotEmpty(t, ctx.Response.Header.Peek("X-Request-ID"))
}

func TestRoute_BotSmartSSRColdThenWarm(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	// cold: render, optimize, cache
	ctx := get(f, "/", "https://app.example", botUA)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, "rendered content")
	assert.NotContains(t, body, "b.js", "optimizer strips scripts for smart-ssr")

	jobs := f.stub.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "http://localhost:3000/", jobs[0].URL)
	assert.Equal(t, "RenderX/1.0", jobs[0].UserAgent)
	assert.Equal(t, "https://app.example", jobs[0].Origin)
	assert.Equal(t, 1, f.store.Len())

	// warm: served from cache, no second render
	ctx = get(f, "/", "https://app.example", botUA)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, body, string(ctx.Response.Body()))
	assert.Equal(t, "HIT", string(ctx.Response.Header.Peek("X-RenderX-Cache")))
	assert.Len(t, f.stub.Jobs(), 1)
}

func TestRoute_WildcardPrecedence(t *testing.T) {
	f := newFixture(t,
		hostFixture{
			cfg:   config.HostConfig{Host: "*.example", Source: "wild"},
			files: map[string]string{"index.html": "wild index"},
		},
		hostFixture{
			cfg:   config.HostConfig{Host: "app.example", Source: "exact"},
			files: map[string]string{"index.html": "exact index"},
		},
	)

	ctx := get(f, "/", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "exact index", string(ctx.Response.Body()))
}

func TestRoute_PathTraversalRejected(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := get(f, "/../../etc/passwd", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "root:")
}

func TestRoute_UnknownHostForbidden(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := get(f, "/", "https://unknown.tld", chromeUA)

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestRoute_InactiveHostUnavailable(t *testing.T) {
	inactive := false
	host := appHost(config.StrategySmartSSR)
	host.cfg.Active = &inactive
	f := newFixture(t, host)

	ctx := get(f, "/", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestRoute_LoopbackRequestNeverRenders(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/assets/app.js", func(req *fasthttp.Request) {
		req.Header.Set(render.HeaderInternal, "true")
		req.Header.SetUserAgent("RenderX/1.0")
		req.SetHost("app.example")
	})

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "bundle")
	assert.Empty(t, f.stub.Jobs(), "loopback requests must not render")
}

func TestRoute_RenderXUserAgentNeverRenders(t *testing.T) {
	// strategy ssr would render anyone else
	f := newFixture(t, appHost(config.StrategySSR))

	ctx := get(f, "/", "https://app.example", "RenderX/1.0")

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "app index")
	assert.Empty(t, f.stub.Jobs())
}

func TestRoute_LoopbackHostFallthrough(t *testing.T) {
	f := newFixture(t,
		hostFixture{
			cfg:   config.HostConfig{Host: "a.example", Source: "a"},
			files: map[string]string{"index.html": "a index"},
		},
		hostFixture{
			cfg:   config.HostConfig{Host: "b.example", Source: "b"},
			files: map[string]string{"index.html": "b index", "only-in-b.js": "b asset"},
		},
	)

	// asset exists only in host b but the browser asks as host a
	ctx := doRequest(f, fasthttp.MethodGet, "/only-in-b.js", func(req *fasthttp.Request) {
		req.Header.Set(render.HeaderInternal, "true")
		req.SetHost("a.example")
	})

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "b asset", string(ctx.Response.Body()))
}

func TestRoute_FileRequestServedStaticUnderSSR(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySSR))

	ctx := get(f, "/assets/app.js", "https://app.example", botUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "bundle")
	assert.Empty(t, f.stub.Jobs())
}

func TestRoute_SSRStrategyRendersEveryone(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySSR))

	ctx := get(f, "/pricing", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "rendered content")
	require.Len(t, f.stub.Jobs(), 1)
	assert.Equal(t, "http://localhost:3000/pricing", f.stub.Jobs()[0].URL)
}

func TestRoute_SSRPassesThroughUnoptimized(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySSR))

	ctx := get(f, "/", "https://app.example", chromeUA)

	// ssr keeps scripts; full-SSR sites may depend on them
	assert.Contains(t, string(ctx.Response.Body()), "b.js")
}

func TestRoute_CSRNeverRenders(t *testing.T) {
	f := newFixture(t, appHost(config.StrategyCSR))

	ctx := get(f, "/", "https://app.example", botUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "app index")
	assert.Empty(t, f.stub.Jobs())
}

func TestRoute_RenderFailureFallsBackToStatic(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))
	f.stub.Err = errors.New("browser crashed")

	ctx := get(f, "/", "https://app.example", botUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "app index")
	assert.Zero(t, f.store.Len())
}

func TestRoute_MalformedOriginRejected(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := get(f, "/", "::not a url::", chromeUA)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestRoute_SPAFallbackForDeepLink(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := get(f, "/some/deep/route", "https://app.example", chromeUA)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "app index")
}

func TestHealth_OK(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/health", nil)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp healthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, config.DefaultParallelRenders, resp.MaxConcurrency)
	assert.Equal(t, 1, resp.Hosts)
	assert.True(t, resp.Browser.Available)
	assert.True(t, resp.Cache.Writable)
}

func TestRenderEndpoint_RequiresURL(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/render", nil)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestRenderEndpoint_RejectsPrivateAddresses(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	for _, target := range []string{
		"http://10.0.0.5/page",
		"http://192.168.1.1/",
		"http://127.0.0.1/x",
		"ftp://app.example/",
	} {
		ctx := doRequest(f, fasthttp.MethodGet, "/render?url="+target, nil)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), target)
	}
}

func TestRenderEndpoint_UnknownHostForbidden(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://other.tld/page", nil)

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestRenderEndpoint_BotOnlyRedirectsHumans(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", func(req *fasthttp.Request) {
		req.Header.SetUserAgent(chromeUA)
	})

	assert.Equal(t, fasthttp.StatusFound, ctx.Response.StatusCode())
	assert.Equal(t, "https://app.example/page", string(ctx.Response.Header.Peek("Location")))
}

func TestRenderEndpoint_MissThenHit(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", func(req *fasthttp.Request) {
		req.Header.SetUserAgent(botUA)
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "MISS", string(ctx.Response.Header.Peek("X-Cache")))
	assert.Contains(t, string(ctx.Response.Body()), "rendered content")

	ctx = doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", func(req *fasthttp.Request) {
		req.Header.SetUserAgent(botUA)
	})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "HIT", string(ctx.Response.Header.Peek("X-Cache")))
	assert.Len(t, f.stub.Jobs(), 1)
}

func TestRenderEndpoint_InvalidDevice(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/&device=fridge", nil)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestRenderEndpoint_RenderFailureIs500(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))
	f.stub.Err = errors.New("boom")

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", func(req *fasthttp.Request) {
		req.Header.SetUserAgent(botUA)
	})

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}

func TestRenderEndpoint_RateLimited(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))
	f.server.limiter = NewRateLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", func(req *fasthttp.Request) {
			req.Header.SetUserAgent(botUA)
		})
		require.NotEqual(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	}

	ctx := doRequest(f, fasthttp.MethodGet, "/render?url=https://app.example/page", nil)
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	// warm the cache via the main path
	get(f, "/", "https://app.example", botUA)
	require.Equal(t, 1, f.store.Len())

	ctx := doRequest(f, fasthttp.MethodPost, "/cache/invalidate", func(req *fasthttp.Request) {
		req.SetBodyString(`{"url":"https://app.example/"}`)
	})

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":true}`, string(ctx.Response.Body()))
	assert.Zero(t, f.store.Len())

	// invalidating again is a no-op, not an error
	ctx = doRequest(f, fasthttp.MethodPost, "/cache/invalidate", func(req *fasthttp.Request) {
		req.SetBodyString(`{"url":"https://app.example/"}`)
	})
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestCacheInvalidateEndpoint_RequiresURL(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodPost, "/cache/invalidate", func(req *fasthttp.Request) {
		req.SetBodyString(`{}`)
	})

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCacheClearEndpoint(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	get(f, "/", "https://app.example", botUA)
	require.Equal(t, 1, f.store.Len())

	ctx := doRequest(f, fasthttp.MethodPost, "/cache/clear", nil)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"success":true}`, string(ctx.Response.Body()))
	assert.Zero(t, f.store.Len())
}

func TestAdminEndpoints_MethodChecks(t *testing.T) {
	f := newFixture(t, appHost(config.StrategySmartSSR))

	ctx := doRequest(f, fasthttp.MethodGet, "/cache/clear", nil)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = doRequest(f, fasthttp.MethodPost, "/render?url=https://app.example/", nil)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}
