package server

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/renderx/gateway/internal/config"
)

var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".css":   "text/css",
	".json":  "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".map":   "application/json",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
}

// StaticServer serves SPA bundles from per-host source directories under the
// hosts root.
type StaticServer struct {
	hostsDir string
	logger   *zap.Logger
}

func NewStaticServer(hostsDir string, logger *zap.Logger) *StaticServer {
	return &StaticServer{hostsDir: hostsDir, logger: logger}
}

// resolve maps a request path into the source directory. The boolean is
// false when the path escapes the source root; such requests are 404s.
// Normalization happens relative to the root so that climbing segments
// survive as a leading ".." instead of being silently swallowed.
func (ss *StaticServer) resolve(source, requestPath string) (string, bool) {
	sourceDir := filepath.Join(ss.hostsDir, source)

	cleaned := path.Clean(strings.TrimPrefix(requestPath, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}

	full := filepath.Join(sourceDir, cleaned)
	if full != sourceDir && !strings.HasPrefix(full, sourceDir+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// Serve writes the file for requestPath from the host's source directory.
// Missing files fall back to the SPA index; directories serve their own
// index.html. Traversal attempts get a 404. Returns false only when nothing
// could be served (the 404 is already written then).
func (ss *StaticServer) Serve(ctx *fasthttp.RequestCtx, source, requestPath string) bool {
	full, ok := ss.resolve(source, requestPath)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return false
	}

	if info, err := os.Stat(full); err == nil {
		if info.IsDir() {
			full = filepath.Join(full, "index.html")
		}
		if ss.writeFile(ctx, full) {
			return true
		}
	}

	// SPA fallback
	index := filepath.Join(ss.hostsDir, source, "index.html")
	if ss.writeFile(ctx, index) {
		return true
	}

	ctx.SetStatusCode(fasthttp.StatusNotFound)
	return false
}

// TryFile serves requestPath from source without the SPA fallback. Used by
// the loopback path where fallthrough across hosts comes first.
func (ss *StaticServer) TryFile(ctx *fasthttp.RequestCtx, source, requestPath string) bool {
	full, ok := ss.resolve(source, requestPath)
	if !ok {
		return false
	}
	if info, err := os.Stat(full); err == nil {
		if info.IsDir() {
			full = filepath.Join(full, "index.html")
		}
		return ss.writeFile(ctx, full)
	}
	return false
}

// ServeIndex writes the host's index.html.
func (ss *StaticServer) ServeIndex(ctx *fasthttp.RequestCtx, source string) bool {
	return ss.writeFile(ctx, filepath.Join(ss.hostsDir, source, "index.html"))
}

// ServeLoopback answers a render engine request: the matched host first,
// then every active host, finally any host's index.html. The browser must
// get its assets no matter which hostname it believes it is fetching from.
func (ss *StaticServer) ServeLoopback(ctx *fasthttp.RequestCtx, matched *config.HostConfig, active []*config.HostConfig, requestPath string) bool {
	if matched != nil && ss.TryFile(ctx, matched.Source, requestPath) {
		return true
	}

	for _, host := range active {
		if matched != nil && host.Source == matched.Source {
			continue
		}
		if ss.TryFile(ctx, host.Source, requestPath) {
			return true
		}
	}

	if matched != nil && ss.ServeIndex(ctx, matched.Source) {
		return true
	}
	for _, host := range active {
		if ss.ServeIndex(ctx, host.Source) {
			return true
		}
	}

	ctx.SetStatusCode(fasthttp.StatusNotFound)
	return false
}

func (ss *StaticServer) writeFile(ctx *fasthttp.RequestCtx, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		ss.logger.Warn("Failed to read static file",
			zap.String("path", path),
			zap.Error(err))
		return false
	}

	contentType, ok := contentTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		contentType = "application/octet-stream"
	}
	ctx.SetContentType(contentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(content)
	return true
}
