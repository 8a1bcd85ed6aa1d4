// Package connectivity implements the backend health monitor with hysteresis.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/oritocare/companion/internal/logging"
)

// Thresholds for hysteresis state flips.
const (
	FailureThreshold = 3
	SuccessThreshold = 2
)

const (
	basePollInterval = 10 * time.Second
	maxPollInterval  = 30 * time.Second
	backoffStep      = 5 * time.Second
	minTransitionGap = 2 * time.Second
	probeTimeout     = 5 * time.Second
)

// Status is the published connection snapshot.
type Status struct {
	Connected bool          `json:"connected"`
	PingTime  time.Duration `json:"ping_time"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Listener receives status snapshots on every state flip.
type Listener func(Status)

// ProbeFunc issues one lightweight health check.
type ProbeFunc func(ctx context.Context) error

// Monitor polls the backend and publishes connected/disconnected events.
// A flip to disconnected requires FailureThreshold consecutive failures;
// a flip back requires SuccessThreshold consecutive successes, and flips
// are at least minTransitionGap apart to avoid flapping.
type Monitor struct {
	probe ProbeFunc

	mu             sync.RWMutex
	connected      bool
	lastPing       time.Duration
	lastChecked    time.Time
	consecFailures int
	consecSuccess  int
	lastTransition time.Time
	paused         bool
	interval       time.Duration

	subscribers map[int]Listener
	nextSubID   int

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger
}

// NewMonitor creates a monitor. The probe is injected so tests can drive
// arbitrary success/failure sequences.
func NewMonitor(probe ProbeFunc) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:       probe,
		connected:   true, // assume reachable until proven otherwise
		interval:    basePollInterval,
		subscribers: make(map[int]Listener),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		log:         logging.Component("connectivity"),
	}
}

// Start begins the polling loop.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop terminates the polling loop.
func (m *Monitor) Stop() {
	m.cancel()
}

func (m *Monitor) loop() {
	timer := time.NewTimer(m.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
			if !m.isPaused() {
				m.check()
			}
		}
		timer.Reset(m.currentInterval())
	}
}

func (m *Monitor) currentInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

func (m *Monitor) isPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Pause suspends polling while the host app is backgrounded.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume restarts polling and performs one immediate check.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()

	m.check()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers a listener and synchronously delivers the current
// state. The returned func unsubscribes.
func (m *Monitor) Subscribe(listener Listener) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = listener
	current := m.snapshotLocked()
	m.mu.Unlock()

	listener(current)

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// CheckNow performs an immediate probe and returns the resulting
// public connected state.
func (m *Monitor) CheckNow() bool {
	m.check()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Status {
	return Status{
		Connected: m.connected,
		PingTime:  m.lastPing,
		CheckedAt: m.lastChecked,
	}
}

// check runs one probe and feeds the result into the hysteresis counters.
// Probe errors are absorbed here; the monitor never propagates them.
func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(m.ctx, probeTimeout)
	start := time.Now()
	err := m.probe(ctx)
	elapsed := time.Since(start)
	cancel()

	m.mu.Lock()

	m.lastChecked = time.Now()
	var flipped bool
	if err == nil {
		m.lastPing = elapsed
		m.consecSuccess++
		m.consecFailures = 0
		m.interval = basePollInterval

		if !m.connected && m.consecSuccess >= SuccessThreshold &&
			time.Since(m.lastTransition) >= minTransitionGap {
			m.connected = true
			m.lastTransition = time.Now()
			flipped = true
		}
	} else {
		m.consecFailures++
		m.consecSuccess = 0

		// Linear backoff proportional to the failure count
		backoff := basePollInterval + time.Duration(m.consecFailures)*backoffStep
		if backoff > maxPollInterval {
			backoff = maxPollInterval
		}
		m.interval = backoff

		if m.connected && m.consecFailures >= FailureThreshold &&
			time.Since(m.lastTransition) >= minTransitionGap {
			m.connected = false
			m.lastTransition = time.Now()
			flipped = true
		}
	}

	snapshot := m.snapshotLocked()
	listeners := make([]Listener, 0, len(m.subscribers))
	for _, l := range m.subscribers {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if flipped {
		m.log.Info("connection state changed: connected=%v", snapshot.Connected)
		for _, l := range listeners {
			l(snapshot)
		}
	}
}
