package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oritocare/companion/internal/core"
)

// Named slots holding the companion's persisted state.
const (
	SlotConversationHistory = "conversation_history"
	SlotUserContext         = "user_context"
	SlotModuleDescriptor    = "module_descriptor"
	SlotLastLocation        = "last_location"
)

// SlotStore reads and writes the named JSON key-value slots.
type SlotStore struct {
	db *DB
}

// NewSlotStore creates a slot store
func NewSlotStore(db *DB) *SlotStore {
	return &SlotStore{db: db}
}

// Put marshals v and stores it under name, replacing any previous value.
func (s *SlotStore) Put(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", name, err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO slots (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, name, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store slot %s: %w", name, err)
	}
	return nil
}

// Get unmarshals the slot into v. Returns core.ErrSlotNotFound when the
// slot has never been written.
func (s *SlotStore) Get(name string, v interface{}) error {
	var value string
	err := s.db.conn.QueryRow(`SELECT value FROM slots WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrSlotNotFound
	}
	if err != nil {
		return fmt.Errorf("read slot %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		return fmt.Errorf("decode slot %s: %w", name, err)
	}
	return nil
}

// Delete removes a slot. Deleting a missing slot is not an error.
func (s *SlotStore) Delete(name string) error {
	_, err := s.db.conn.Exec(`DELETE FROM slots WHERE name = ?`, name)
	return err
}

// IncrementCounter bumps a per-date usage counter by one.
func (s *SlotStore) IncrementCounter(date, key string) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO usage_counters (date, key, count) VALUES (?, ?, 1)
		ON CONFLICT(date, key) DO UPDATE SET count = count + 1
	`, date, key)
	return err
}

// Counter reads a per-date usage counter; missing counters read as zero.
func (s *SlotStore) Counter(date, key string) (int, error) {
	var count int
	err := s.db.conn.QueryRow(
		`SELECT count FROM usage_counters WHERE date = ? AND key = ?`, date, key,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// ModuleStats is one day of companion-module statistics.
type ModuleStats struct {
	Date          string `json:"date"`
	Connects      int    `json:"connects"`
	Commands      int    `json:"commands"`
	Reconnects    int    `json:"reconnects"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

// RecordModuleEvent bumps one of the per-day module statistic columns.
// Valid fields: connects, commands, reconnects.
func (s *SlotStore) RecordModuleEvent(date, field string) error {
	switch field {
	case "connects", "commands", "reconnects":
	default:
		return fmt.Errorf("unknown module stat field %q", field)
	}

	_, err := s.db.conn.Exec(fmt.Sprintf(`
		INSERT INTO module_stats (date, %s) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET %s = %s + 1
	`, field, field, field), date)
	return err
}

// AddModuleUptime accumulates connected seconds for a day.
func (s *SlotStore) AddModuleUptime(date string, seconds int) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO module_stats (date, uptime_seconds) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET uptime_seconds = uptime_seconds + excluded.uptime_seconds
	`, date, seconds)
	return err
}

// ModuleStatsFor reads one day of module statistics.
func (s *SlotStore) ModuleStatsFor(date string) (*ModuleStats, error) {
	stats := &ModuleStats{Date: date}
	err := s.db.conn.QueryRow(`
		SELECT connects, commands, reconnects, uptime_seconds
		FROM module_stats WHERE date = ?
	`, date).Scan(&stats.Connects, &stats.Commands, &stats.Reconnects, &stats.UptimeSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}
