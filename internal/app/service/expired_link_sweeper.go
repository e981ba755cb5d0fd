package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sweepTimeout = 30 * time.Second

// ExpiredLinkSweeper periodically purges links whose expiry has passed.
type ExpiredLinkSweeper struct {
	links    LinkService
	logger   *zap.Logger
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExpiredLinkSweeper creates a sweeper running every interval.
func NewExpiredLinkSweeper(links LinkService, logger *zap.Logger, interval time.Duration) *ExpiredLinkSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiredLinkSweeper{
		links:    links,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep. A non-positive interval disables it.
func (s *ExpiredLinkSweeper) Start() {
	if s.interval <= 0 {
		s.logger.Info("expired link sweeper disabled")
		return
	}
	s.wg.Add(1)
	go s.run()
}

// Stop halts the sweep and waits for an in-flight run to finish.
func (s *ExpiredLinkSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *ExpiredLinkSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			s.logger.Info("expired link sweeper stopped")
			return
		}
	}
}

func (s *ExpiredLinkSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.links.PurgeExpired(ctx); err != nil {
		s.logger.Error("failed to purge expired links", zap.Error(err))
	}
}
