package storage

import (
	"testing"

	"github.com/oritocare/companion/internal/core"
)

func newTestStore(t *testing.T) *SlotStore {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSlotStore(db)
}

func TestSlotPutGet(t *testing.T) {
	slots := newTestStore(t)

	desc := core.ModuleDescriptor{
		ServiceID: "AURA_MODULE",
		Hostname:  "aura-01",
		IP:        "192.168.1.50",
		WSPort:    8765,
		HTTPPort:  8080,
		Version:   "1.2.0",
	}
	if err := slots.Put(SlotModuleDescriptor, desc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got core.ModuleDescriptor
	if err := slots.Get(SlotModuleDescriptor, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != desc {
		t.Errorf("got %+v, want %+v", got, desc)
	}
}

func TestSlotOverwrite(t *testing.T) {
	slots := newTestStore(t)

	if err := slots.Put(SlotLastLocation, map[string]float64{"lat": 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := slots.Put(SlotLastLocation, map[string]float64{"lat": 2}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	var got map[string]float64
	if err := slots.Get(SlotLastLocation, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["lat"] != 2 {
		t.Errorf("lat = %v, want 2", got["lat"])
	}
}

func TestSlotMissing(t *testing.T) {
	slots := newTestStore(t)

	var v map[string]string
	if err := slots.Get("never-written", &v); err != core.ErrSlotNotFound {
		t.Errorf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestSlotDelete(t *testing.T) {
	slots := newTestStore(t)

	if err := slots.Put(SlotUserContext, core.UserContext{Name: "Rosa"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := slots.Delete(SlotUserContext); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var uc core.UserContext
	if err := slots.Get(SlotUserContext, &uc); err != core.ErrSlotNotFound {
		t.Errorf("err = %v, want ErrSlotNotFound after delete", err)
	}

	// Deleting a missing slot is not an error.
	if err := slots.Delete(SlotUserContext); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestUsageCounters(t *testing.T) {
	slots := newTestStore(t)

	if got, err := slots.Counter("2026-08-30", "wake_words"); err != nil || got != 0 {
		t.Fatalf("Counter = (%d, %v), want (0, nil)", got, err)
	}

	for i := 0; i < 3; i++ {
		if err := slots.IncrementCounter("2026-08-30", "wake_words"); err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
	}

	if got, _ := slots.Counter("2026-08-30", "wake_words"); got != 3 {
		t.Errorf("Counter = %d, want 3", got)
	}
	if got, _ := slots.Counter("2026-08-31", "wake_words"); got != 0 {
		t.Errorf("other date Counter = %d, want 0", got)
	}
}

func TestModuleStats(t *testing.T) {
	slots := newTestStore(t)

	const date = "2026-08-30"
	if err := slots.RecordModuleEvent(date, "connects"); err != nil {
		t.Fatalf("RecordModuleEvent: %v", err)
	}
	if err := slots.RecordModuleEvent(date, "commands"); err != nil {
		t.Fatalf("RecordModuleEvent: %v", err)
	}
	if err := slots.RecordModuleEvent(date, "commands"); err != nil {
		t.Fatalf("RecordModuleEvent: %v", err)
	}
	if err := slots.AddModuleUptime(date, 120); err != nil {
		t.Fatalf("AddModuleUptime: %v", err)
	}
	if err := slots.AddModuleUptime(date, 30); err != nil {
		t.Fatalf("AddModuleUptime: %v", err)
	}

	stats, err := slots.ModuleStatsFor(date)
	if err != nil {
		t.Fatalf("ModuleStatsFor: %v", err)
	}
	if stats.Connects != 1 || stats.Commands != 2 || stats.Reconnects != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.UptimeSeconds != 150 {
		t.Errorf("UptimeSeconds = %d, want 150", stats.UptimeSeconds)
	}

	if err := slots.RecordModuleEvent(date, "bogus"); err == nil {
		t.Error("expected error for unknown stat field")
	}

	empty, err := slots.ModuleStatsFor("1999-01-01")
	if err != nil {
		t.Fatalf("ModuleStatsFor empty: %v", err)
	}
	if empty.Connects != 0 || empty.UptimeSeconds != 0 {
		t.Errorf("empty day stats = %+v", empty)
	}
}
