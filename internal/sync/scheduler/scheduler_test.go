package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	fieldsync "github.com/fieldops/fieldsync/internal/sync"

	"github.com/fieldops/fieldsync/internal/netmon"
)

// countingDrainer records ProcessQueue calls.
type countingDrainer struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDrainer) ProcessQueue(ctx context.Context) fieldsync.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return fieldsync.Result{}
}

func (d *countingDrainer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitForCalls(t *testing.T, d *countingDrainer, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d drains, got %d", want, d.count())
}

func TestOnlineTransitionTriggersDrain(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)

	s := New(drainer, monitor, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	monitor.Report(true)
	waitForCalls(t, drainer, 1)
}

func TestOfflineTransitionDoesNotDrain(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)

	s := New(drainer, monitor, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	monitor.Report(true)
	waitForCalls(t, drainer, 1)

	monitor.Report(false)
	time.Sleep(50 * time.Millisecond)
	if n := drainer.count(); n != 1 {
		t.Errorf("Expected no drain on going offline, got %d total", n)
	}
}

func TestPeriodicDrainWhileOnline(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)
	monitor.Report(true)

	s := New(drainer, monitor, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	// No transition happened after Start; only the ticker drives drains.
	waitForCalls(t, drainer, 2)
}

func TestNoPeriodicDrainWhileOffline(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)

	s := New(drainer, monitor, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := drainer.count(); n != 0 {
		t.Errorf("Expected no drains while offline, got %d", n)
	}
}

func TestStopEndsScheduling(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)
	monitor.Report(true)

	s := New(drainer, monitor, 20*time.Millisecond)
	s.Start(context.Background())

	waitForCalls(t, drainer, 1)
	s.Stop()

	before := drainer.count()
	monitor.Report(false)
	monitor.Report(true)
	time.Sleep(100 * time.Millisecond)

	// A transition after Stop triggers nothing; the periodic loop is gone.
	if n := drainer.count(); n != before {
		t.Errorf("Expected no drains after Stop, got %d more", n-before)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	drainer := &countingDrainer{}
	monitor := netmon.New(nil, time.Second, 0)

	s := New(drainer, monitor, time.Hour)
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	monitor.Report(true)
	waitForCalls(t, drainer, 1)

	time.Sleep(50 * time.Millisecond)
	if n := drainer.count(); n != 1 {
		t.Errorf("Expected a single subscription, got %d drains", n)
	}
}
