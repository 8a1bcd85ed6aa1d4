package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/oritocare/companion/internal/backend"
)

// newBackedService spins up a fake backend and a tool service against it.
func newBackedService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := backend.NewClient(backend.Config{BaseURL: srv.URL, Token: "tok", PatientUID: "p-1"})
	return NewService(Config{Backend: client})
}

func TestGetUserProfileIdempotent(t *testing.T) {
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/profile" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(backend.Profile{
			Name:        "Rosa",
			Age:         78,
			Condition:   "early-stage dementia",
			Severity:    "mild",
			Preferences: []string{"gardening", "fado music"},
		})
	}))

	first := s.Registry().Execute(context.Background(), "get_user_profile", "{}")
	second := s.Registry().Execute(context.Background(), "get_user_profile", "{}")

	if first != second {
		t.Errorf("repeated calls differ:\n%q\n%q", first, second)
	}
	if !strings.Contains(first, "Rosa") || !strings.Contains(first, "early-stage dementia") {
		t.Errorf("result = %q", first)
	}
}

func TestGetMedicationsFormatting(t *testing.T) {
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]backend.Medication{
			{ID: "m1", Name: "Aspirin", Dosage: "100mg", Schedule: "08:00 daily"},
			{ID: "m2", Name: "Donepezil", Dosage: "5mg"},
		})
	}))

	got := s.Registry().Execute(context.Background(), "get_medications", "{}")
	if !strings.Contains(got, "Aspirin (100mg) at 08:00 daily") {
		t.Errorf("result = %q", got)
	}
	if !strings.Contains(got, "Donepezil (5mg)") {
		t.Errorf("result = %q", got)
	}
}

func TestBackendFailureAbsorbed(t *testing.T) {
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	got := s.Registry().Execute(context.Background(), "get_medications", "{}")
	if !strings.Contains(got, "could not be completed") {
		t.Errorf("result = %q, want an absorbed failure message", got)
	}
}

func TestAddMedicationRequiresName(t *testing.T) {
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called without a name")
	}))

	got := s.Registry().Execute(context.Background(), "add_medication", `{"dosage":"100mg"}`)
	if !strings.Contains(got, "missing required argument") {
		t.Errorf("result = %q", got)
	}
}

func TestRelativesCached(t *testing.T) {
	var calls atomic.Int32
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/relatives/":
			calls.Add(1)
			json.NewEncoder(w).Encode([]backend.Relative{
				{ID: "r1", Name: "Maria", Relationship: "daughter"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/relatives/":
			json.NewEncoder(w).Encode(backend.Relative{ID: "r2", Name: "Ana", Relationship: "granddaughter"})
		default:
			http.NotFound(w, r)
		}
	}))

	s.Registry().Execute(context.Background(), "get_relatives", "{}")
	s.Registry().Execute(context.Background(), "get_relatives", "{}")
	if got := calls.Load(); got != 1 {
		t.Errorf("backend fetches = %d, want 1 (cached)", got)
	}

	// A mutation invalidates the cache.
	s.Registry().Execute(context.Background(), "add_relative", `{"name":"Ana","relationship":"granddaughter"}`)
	s.Registry().Execute(context.Background(), "get_relatives", "{}")
	if got := calls.Load(); got != 2 {
		t.Errorf("backend fetches = %d, want refetch after mutation", got)
	}
}

func TestTriggerEmergencyAlertDefaultsLevel(t *testing.T) {
	var gotLevel float64
	s := newBackedService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sos/trigger" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		gotLevel, _ = payload["level"].(float64)
		json.NewEncoder(w).Encode(backend.SOSEvent{ID: "sos-1", Level: int(gotLevel), Reason: "help"})
	}))

	result := s.Registry().Execute(context.Background(), "trigger_emergency_alert", `{"reason":"help"}`)
	if gotLevel != 3 {
		t.Errorf("level = %v, want default 3", gotLevel)
	}
	if !strings.Contains(result, "Caregivers have been notified") {
		t.Errorf("result = %q", result)
	}
}
