package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oritocare/companion/internal/backend"
	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/discovery"
	"github.com/oritocare/companion/internal/llm"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/modulesession"
)

// relativesCacheTTL bounds how long the relatives list is reused between
// face-recognition calls before refetching.
const relativesCacheTTL = 5 * time.Minute

// Service owns the tool handlers and their collaborators.
type Service struct {
	backend *backend.Client
	scanner *discovery.Scanner
	session *modulesession.Session

	// connectModule establishes the module session with the app's
	// message/state wiring; the session API alone can't, because it
	// needs callbacks only the app owns.
	connectModule func(desc core.ModuleDescriptor) error

	registry *Registry

	cacheMu        sync.Mutex
	relativesCache []backend.Relative
	relativesAt    time.Time

	log *logging.Logger
}

// Config for the tool service
type Config struct {
	Backend       *backend.Client
	Scanner       *discovery.Scanner
	Session       *modulesession.Session
	ConnectModule func(desc core.ModuleDescriptor) error
}

// NewService creates the service and registers every tool.
func NewService(cfg Config) *Service {
	s := &Service{
		backend:       cfg.Backend,
		scanner:       cfg.Scanner,
		session:       cfg.Session,
		connectModule: cfg.ConnectModule,
		registry:      NewRegistry(),
		log:           logging.Component("tools"),
	}
	s.registerAll()
	return s
}

// Registry exposes the dispatch table to the agent loop.
func (s *Service) Registry() *Registry {
	return s.registry
}

// cachedRelatives returns the relatives list, refetching only after the
// TTL expires.
func (s *Service) cachedRelatives(ctx context.Context) ([]backend.Relative, error) {
	s.cacheMu.Lock()
	if s.relativesCache != nil && time.Since(s.relativesAt) < relativesCacheTTL {
		cached := s.relativesCache
		s.cacheMu.Unlock()
		return cached, nil
	}
	s.cacheMu.Unlock()

	relatives, err := s.backend.ListRelatives(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.relativesCache = relatives
	s.relativesAt = time.Now()
	s.cacheMu.Unlock()
	return relatives, nil
}

// invalidateRelatives clears the cache after a mutation.
func (s *Service) invalidateRelatives() {
	s.cacheMu.Lock()
	s.relativesCache = nil
	s.cacheMu.Unlock()
}

// def builds one tool schema. required lists the mandatory property names.
func def(name, description string, properties map[string]interface{}, required ...string) llm.Tool {
	params := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func strArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// requireArg fails the handler when a mandatory string argument is absent.
func requireArg(args map[string]interface{}, key string) (string, error) {
	v := strArg(args, key)
	if v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}

// ModuleStatus produces a snapshot from the backend's module view. The
// agent loop also calls this for grounding injection.
func (s *Service) ModuleStatus(ctx context.Context) (*core.AuraStatusSnapshot, error) {
	status, err := s.backend.AuraStatus(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &core.AuraStatusSnapshot{
		Connected: status.Connected,
		Message:   status.Message,
		IP:        status.IP,
		Features:  status.Features,
		CheckedAt: time.Now(),
	}
	if status.LastSeen != "" {
		if t, err := time.Parse(time.RFC3339, status.LastSeen); err == nil {
			snapshot.LastSeen = &t
		}
	}
	if snapshot.Message == "" {
		if snapshot.Connected {
			snapshot.Message = "Aura module is online"
		} else {
			snapshot.Message = "Aura module is offline"
		}
	}
	return snapshot, nil
}
