package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type healthProbe struct {
	Available bool   `json:"available,omitempty"`
	Writable  bool   `json:"writable,omitempty"`
	Error     string `json:"error,omitempty"`
}

type memoryStats struct {
	TotalMB     uint64  `json:"totalMb"`
	UsedMB      uint64  `json:"usedMb"`
	UsedPercent float64 `json:"usedPercent"`
}

type healthResponse struct {
	Status         string       `json:"status"`
	ActiveRequests int          `json:"activeRequests"`
	MaxConcurrency int          `json:"maxConcurrency"`
	Hosts          int          `json:"hosts"`
	Browser        healthProbe  `json:"browser"`
	Cache          healthProbe  `json:"cache"`
	Memory         *memoryStats `json:"memory,omitempty"`
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	resp := healthResponse{
		Status:         "ok",
		MaxConcurrency: s.cfg.ParallelRenders,
		Hosts:          len(s.resolver.ActiveHosts()),
	}

	if counter, ok := s.renderer.(interface{ Active() int }); ok {
		resp.ActiveRequests = counter.Active()
	}

	available, err := s.renderer.Available()
	resp.Browser.Available = available
	if err != nil {
		resp.Browser.Error = err.Error()
	}

	if err := s.probeCacheWritable(); err != nil {
		resp.Cache.Writable = false
		resp.Cache.Error = err.Error()
		resp.Status = "degraded"
	} else {
		resp.Cache.Writable = true
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = &memoryStats{
			TotalMB:     vm.Total / 1024 / 1024,
			UsedMB:      vm.Used / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}

	status := fasthttp.StatusOK
	if resp.Status == "degraded" {
		status = fasthttp.StatusServiceUnavailable
	}

	body, err := json.Marshal(&resp)
	if err != nil {
		logger.Error("Failed to encode health response", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(ctx, status, body)
}

// probeCacheWritable writes and removes a probe file in the cache directory.
func (s *Server) probeCacheWritable() error {
	if err := os.MkdirAll(s.cacheDir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(s.cacheDir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}

type invalidateRequest struct {
	URL    string `json:"url"`
	Device string `json:"device,omitempty"`
}

func (s *Server) handleCacheInvalidate(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	var req invalidateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.URL == "" {
		s.writeError(ctx, fasthttp.StatusBadRequest, "url is required")
		return
	}

	removed, err := s.store.Invalidate(context.Background(), req.URL, req.Device)
	if err != nil {
		logger.Error("Cache invalidation failed",
			zap.String("url", req.URL),
			zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "invalidation failed")
		return
	}

	logger.Info("Cache invalidated",
		zap.String("url", req.URL),
		zap.Int("removed", removed))
	s.writeJSON(ctx, fasthttp.StatusOK, []byte(`{"success":true}`))
}

func (s *Server) handleCacheClear(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	removed, err := s.store.Clear(context.Background())
	if err != nil {
		logger.Error("Cache clear failed", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "clear failed")
		return
	}

	logger.Info("Cache cleared via API", zap.Int("removed", removed))
	s.writeJSON(ctx, fasthttp.StatusOK, []byte(`{"success":true}`))
}
