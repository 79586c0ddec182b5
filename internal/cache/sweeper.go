package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the periodic expiry sweep against a Store. On startup it
// either clears the cache outright or runs one immediate sweep, then ticks
// at the configured interval until Shutdown.
type Sweeper struct {
	store          Store
	interval       time.Duration
	clearOnStartup bool
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewSweeper(store Store, interval time.Duration, clearOnStartup bool, logger *zap.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:          store,
		interval:       interval,
		clearOnStartup: clearOnStartup,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start performs the startup pass and launches the sweep loop.
func (s *Sweeper) Start() {
	if s.clearOnStartup {
		removed, err := s.store.Clear(s.ctx)
		if err != nil {
			s.logger.Error("Startup cache clear failed", zap.Error(err))
		} else {
			s.logger.Info("Cache cleared on startup", zap.Int("removed", removed))
		}
	} else {
		s.runSweep()
	}

	s.logger.Info("Cache sweeper starting", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runSweep()
			case <-s.ctx.Done():
				s.logger.Info("Cache sweeper shutting down")
				return
			}
		}
	}()
}

// Shutdown stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Cache sweeper stopped")
}

func (s *Sweeper) runSweep() {
	start := time.Now()
	result, err := s.store.Cleanup(s.ctx)
	if err != nil {
		s.logger.Error("Cache sweep failed", zap.Error(err))
		return
	}

	s.logger.Info("Cache sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))
}
