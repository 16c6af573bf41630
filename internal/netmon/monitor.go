// Package netmon observes connectivity transitions for the sync engine.
//
// The monitor is a sensor, not an actor: it keeps no persisted state and
// performs no recovery of its own. Subscribers are notified on transitions
// only, never on steady-state checks, and rapid flapping inside the debounce
// window collapses to a single notification so marginal connectivity does not
// trigger a burst of sync attempts.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"
)

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// DialProbe returns a Probe that attempts a TCP dial against addr.
func DialProbe(addr string, timeout time.Duration) Probe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Monitor tracks a debounced online/offline state.
type Monitor struct {
	probe    Probe
	interval time.Duration
	debounce time.Duration

	mu             sync.Mutex
	online         bool
	candidate      bool
	candidateSet   bool
	candidateSince time.Time
	subs           map[int]func(online bool)
	nextSub        int
	running        bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a Monitor. probe may be nil when connectivity is reported
// externally through Report.
func New(probe Probe, interval, debounce time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		debounce: debounce,
		subs:     make(map[int]func(bool)),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the probe loop. The initial state is taken from one immediate
// probe without notifying subscribers.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.probe == nil {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.online = m.probe(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// IsOnline returns the current debounced state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers cb to fire on every committed transition. The returned
// function unsubscribes.
func (m *Monitor) Subscribe(cb func(online bool)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Report feeds an externally observed connectivity signal (an OS-level
// callback, or a probe result) through the debounce.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()

	if online == m.online {
		// Flap back inside the window: drop the pending candidate.
		m.candidateSet = false
		m.mu.Unlock()
		return
	}

	now := m.now()
	if !m.candidateSet || m.candidate != online {
		m.candidate = online
		m.candidateSet = true
		m.candidateSince = now
		m.mu.Unlock()

		if m.debounce > 0 {
			time.AfterFunc(m.debounce, m.evaluate)
			return
		}
		m.evaluate()
		return
	}

	m.mu.Unlock()
	m.evaluate()
}

// evaluate commits a candidate state that has remained stable for the full
// debounce window, then notifies subscribers exactly once.
func (m *Monitor) evaluate() {
	m.mu.Lock()
	if !m.candidateSet || m.candidate == m.online {
		m.candidateSet = false
		m.mu.Unlock()
		return
	}
	if m.now().Sub(m.candidateSince) < m.debounce {
		m.mu.Unlock()
		return
	}

	m.online = m.candidate
	m.candidateSet = false
	state := m.online

	cbs := make([]func(bool), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Report(m.probe(ctx))
		}
	}
}
