package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/renderx/gateway/internal/render"
)

func classifyRequest(t *testing.T, configure func(*fasthttp.Request)) (*classification, error) {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("/")
	configure(&req)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return classify(ctx)
}

func TestClassify_OriginPreferredOverHost(t *testing.T) {
	cls, err := classifyRequest(t, func(req *fasthttp.Request) {
		req.SetHost("other.example:8080")
		req.Header.Set("Origin", "https://app.example")
	})
	require.NoError(t, err)
	assert.Equal(t, "app.example", cls.Hostname)
	assert.Equal(t, "https://app.example", cls.Origin)
}

func TestClassify_HostFallbackStripsPort(t *testing.T) {
	cls, err := classifyRequest(t, func(req *fasthttp.Request) {
		req.SetHost("app.example:3000")
	})
	require.NoError(t, err)
	assert.Equal(t, "app.example", cls.Hostname)
	assert.Empty(t, cls.Origin)
}

func TestClassify_MalformedOrigin(t *testing.T) {
	_, err := classifyRequest(t, func(req *fasthttp.Request) {
		req.Header.Set("Origin", "not a url at all")
	})
	assert.Error(t, err)
}

func TestClassify_InternalAndRenderXFlags(t *testing.T) {
	cls, err := classifyRequest(t, func(req *fasthttp.Request) {
		req.SetHost("app.example")
		req.Header.Set(render.HeaderInternal, "true")
		req.Header.SetUserAgent("Mozilla/5.0 RenderX/1.0")
	})
	require.NoError(t, err)
	assert.True(t, cls.IsInternalRender)
	assert.True(t, cls.IsRenderXRequest)
}

func TestClassify_FileRequest(t *testing.T) {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("/assets/app.js")
	req.SetHost("app.example")

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)

	cls, err := classify(ctx)
	require.NoError(t, err)
	assert.True(t, cls.IsFileRequest)
}

func TestClientIP(t *testing.T) {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("/")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)

	assert.Equal(t, "203.0.113.7", clientIP(ctx))
}
