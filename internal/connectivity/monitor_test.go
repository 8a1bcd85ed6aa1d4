package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedProbe fails while failing is true.
type scriptedProbe struct {
	failing bool
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	if p.failing {
		return errors.New("unreachable")
	}
	return nil
}

// bypassGap backdates the last transition so the minimum-gap rule does
// not interfere with counter-focused tests.
func bypassGap(m *Monitor) {
	m.mu.Lock()
	m.lastTransition = time.Now().Add(-2 * minTransitionGap)
	m.mu.Unlock()
}

func TestMonitorFlipsAfterThreeFailures(t *testing.T) {
	probe := &scriptedProbe{failing: true}
	m := NewMonitor(probe.probe)

	for i := 1; i < FailureThreshold; i++ {
		if got := m.CheckNow(); !got {
			t.Fatalf("disconnected after %d failures, want %d", i, FailureThreshold)
		}
	}
	if got := m.CheckNow(); got {
		t.Errorf("still connected after %d failures", FailureThreshold)
	}
}

func TestMonitorRecoversAfterTwoSuccesses(t *testing.T) {
	probe := &scriptedProbe{failing: true}
	m := NewMonitor(probe.probe)

	for i := 0; i < FailureThreshold; i++ {
		m.CheckNow()
	}
	if m.Status().Connected {
		t.Fatal("setup: monitor should be disconnected")
	}

	bypassGap(m)
	probe.failing = false

	if got := m.CheckNow(); got {
		t.Error("one success should not reconnect")
	}
	if got := m.CheckNow(); !got {
		t.Errorf("still disconnected after %d successes", SuccessThreshold)
	}
}

func TestMonitorMinimumTransitionGap(t *testing.T) {
	probe := &scriptedProbe{failing: true}
	m := NewMonitor(probe.probe)

	for i := 0; i < FailureThreshold; i++ {
		m.CheckNow()
	}

	// The flip just happened; successes inside the gap must not flip back.
	probe.failing = false
	for i := 0; i < SuccessThreshold+1; i++ {
		if got := m.CheckNow(); got {
			t.Fatal("reconnected inside the minimum transition gap")
		}
	}
}

func TestMonitorSuccessResetsFailureCount(t *testing.T) {
	probe := &scriptedProbe{failing: true}
	m := NewMonitor(probe.probe)

	m.CheckNow()
	m.CheckNow()
	probe.failing = false
	m.CheckNow()
	probe.failing = true
	m.CheckNow()
	m.CheckNow()

	if !m.Status().Connected {
		t.Error("interleaved success must reset the failure counter")
	}
}

func TestMonitorPollBackoff(t *testing.T) {
	probe := &scriptedProbe{failing: true}
	m := NewMonitor(probe.probe)

	m.CheckNow()
	if got := m.currentInterval(); got != basePollInterval+backoffStep {
		t.Errorf("interval after one failure = %s, want %s", got, basePollInterval+backoffStep)
	}

	for i := 0; i < 10; i++ {
		m.CheckNow()
	}
	if got := m.currentInterval(); got != maxPollInterval {
		t.Errorf("interval = %s, want cap %s", got, maxPollInterval)
	}

	probe.failing = false
	m.CheckNow()
	if got := m.currentInterval(); got != basePollInterval {
		t.Errorf("interval after success = %s, want %s", got, basePollInterval)
	}
}

func TestMonitorSubscribe(t *testing.T) {
	probe := &scriptedProbe{}
	m := NewMonitor(probe.probe)

	var events []Status
	unsubscribe := m.Subscribe(func(s Status) {
		events = append(events, s)
	})

	// Initial synchronous delivery.
	if len(events) != 1 || !events[0].Connected {
		t.Fatalf("events = %v, want one initial connected snapshot", events)
	}

	// Successful checks with no flip publish nothing.
	m.CheckNow()
	m.CheckNow()
	if len(events) != 1 {
		t.Errorf("successful checks without a flip published %d extra events", len(events)-1)
	}

	probe.failing = true
	for i := 0; i < FailureThreshold; i++ {
		m.CheckNow()
	}
	if len(events) != 2 || events[1].Connected {
		t.Fatalf("events = %v, want a disconnected flip event", events)
	}

	unsubscribe()
	bypassGap(m)
	probe.failing = false
	m.CheckNow()
	m.CheckNow()
	if len(events) != 2 {
		t.Error("unsubscribed listener still received events")
	}
}
