// Package scheduler drives queue drains from connectivity and time.
package scheduler

import (
	"context"
	"sync"
	"time"

	fieldsync "github.com/fieldops/fieldsync/internal/sync"

	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/netmon"
)

// Drainer is the orchestrator port the scheduler drives.
type Drainer interface {
	ProcessQueue(ctx context.Context) fieldsync.Result
}

// Scheduler runs a drain on every offline-to-online transition and
// periodically while online. The orchestrator's own single-flight guard
// makes overlapping triggers harmless.
type Scheduler struct {
	drainer Drainer
	monitor *netmon.Monitor

	syncInterval time.Duration

	mu        sync.Mutex
	isRunning bool
	unsub     func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(drainer Drainer, monitor *netmon.Monitor, syncInterval time.Duration) *Scheduler {
	return &Scheduler{
		drainer:      drainer,
		monitor:      monitor,
		syncInterval: syncInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start subscribes to connectivity transitions and begins the periodic loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true

	s.unsub = s.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		logging.Component("scheduler").Info("connectivity restored, draining queue")
		go s.drainer.ProcessQueue(ctx)
	})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicLoop(ctx)

	logging.Component("scheduler").Info("sync scheduler started")
}

// Stop halts the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Component("scheduler").Info("sync scheduler stopped")
}

// periodicLoop drains on a timer while online, catching items whose backoff
// cool-down elapsed with no connectivity transition to trigger them.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.monitor.IsOnline() {
				s.drainer.ProcessQueue(ctx)
			}
		}
	}
}
