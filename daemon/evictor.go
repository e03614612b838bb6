package daemon

import (
	"log/slog"
	"sync"
	"time"
)

// EvictionSupervisor periodically expires the cache entry and, when
// configured, shuts the daemon down once nothing is loaded or running.
type EvictionSupervisor struct {
	svc            *Service
	interval       time.Duration
	shutdownOnIdle bool
	logger         *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newEvictionSupervisor(svc *Service, interval time.Duration, shutdownOnIdle bool, logger *slog.Logger) *EvictionSupervisor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &EvictionSupervisor{
		svc:            svc,
		interval:       interval,
		shutdownOnIdle: shutdownOnIdle,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

func (s *EvictionSupervisor) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *EvictionSupervisor) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs one eviction pass. Failures are logged and retried at the
// next interval; eviction is never fatal to the daemon.
func (s *EvictionSupervisor) tick(now time.Time) {
	evicted, err := s.svc.evictExpired(now)
	if err != nil {
		s.logger.Warn("eviction pass failed", "error", err)
		return
	}
	if evicted {
		s.logger.Info("evicted idle cache entry")
	}

	if s.shutdownOnIdle && s.svc.isIdle() {
		s.logger.Info("nothing loaded and no tasks running, shutting down")
		go s.svc.Shutdown()
	}
}

// Stop halts the loop and waits for a tick in flight. Idempotent.
func (s *EvictionSupervisor) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
