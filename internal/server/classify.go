package server

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/renderx/gateway/internal/render"
)

// classification is what the router derives from a request before it decides
// how to serve it.
type classification struct {
	Hostname         string
	Origin           string // raw Origin header when present
	IsInternalRender bool
	IsRenderXRequest bool
	IsFileRequest    bool
}

// classify derives the request classification. Returns an error when the
// Origin header is present but not a parseable URL.
func classify(ctx *fasthttp.RequestCtx) (*classification, error) {
	c := &classification{}

	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin != "" {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Hostname() == "" {
			return nil, fmt.Errorf("invalid Origin header: %q", origin)
		}
		c.Origin = origin
		c.Hostname = parsed.Hostname()
	} else {
		c.Hostname = stripPort(string(ctx.Host()))
	}

	c.IsInternalRender = string(ctx.Request.Header.Peek(render.HeaderInternal)) == "true"

	ua := strings.ToLower(string(ctx.UserAgent()))
	c.IsRenderXRequest = strings.Contains(ua, "renderx")

	c.IsFileRequest = path.Ext(string(ctx.Path())) != ""

	return c, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(host, "[]")
}
