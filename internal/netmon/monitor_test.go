package netmon

import (
	"context"
	"sync"
	"testing"
	"time"
)

// collector records transition notifications.
type collector struct {
	mu     sync.Mutex
	states []bool
}

func (c *collector) record(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, online)
}

func (c *collector) snapshot() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.states...)
}

func TestReportFiresOnTransitionOnly(t *testing.T) {
	m := New(nil, time.Second, 0)
	c := &collector{}
	m.Subscribe(c.record)

	m.Report(true)
	m.Report(true)
	m.Report(true)

	states := c.snapshot()
	if len(states) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(states))
	}
	if !states[0] {
		t.Error("Expected online transition")
	}
	if !m.IsOnline() {
		t.Error("Expected IsOnline true")
	}
}

func TestReportBothDirections(t *testing.T) {
	m := New(nil, time.Second, 0)
	c := &collector{}
	m.Subscribe(c.record)

	m.Report(true)
	m.Report(false)
	m.Report(true)

	states := c.snapshot()
	if len(states) != 3 {
		t.Fatalf("Expected 3 notifications, got %d", len(states))
	}
	if !states[0] || states[1] || !states[2] {
		t.Errorf("Unexpected sequence %v", states)
	}
}

func TestDebounceCollapsesFlapping(t *testing.T) {
	m := New(nil, time.Second, 50*time.Millisecond)
	c := &collector{}
	m.Subscribe(c.record)

	// Flap within the window: online candidate appears and is withdrawn
	// before the debounce elapses.
	m.Report(true)
	m.Report(false)
	m.Report(true)
	m.Report(false)

	time.Sleep(100 * time.Millisecond)
	if n := len(c.snapshot()); n != 0 {
		t.Fatalf("Expected flapping to collapse to no notification, got %d", n)
	}
	if m.IsOnline() {
		t.Error("Expected to remain offline")
	}

	// A stable signal commits after the window.
	m.Report(true)
	time.Sleep(100 * time.Millisecond)

	states := c.snapshot()
	if len(states) != 1 || !states[0] {
		t.Fatalf("Expected one online notification, got %v", states)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := New(nil, time.Second, 0)
	c := &collector{}
	unsub := m.Subscribe(c.record)

	m.Report(true)
	unsub()
	m.Report(false)

	if n := len(c.snapshot()); n != 1 {
		t.Errorf("Expected 1 notification after unsubscribe, got %d", n)
	}
}

func TestStartUsesProbeForInitialState(t *testing.T) {
	m := New(func(ctx context.Context) bool { return true }, time.Hour, 0)
	c := &collector{}
	m.Subscribe(c.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	if !m.IsOnline() {
		t.Error("Expected initial state from probe")
	}
	// The initial probe sets state without notifying.
	if n := len(c.snapshot()); n != 0 {
		t.Errorf("Expected no notification for initial state, got %d", n)
	}
}
