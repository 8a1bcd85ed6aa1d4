// Package tools bridges agent intents to the backend API and the Aura module.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/oritocare/companion/internal/llm"
	"github.com/oritocare/companion/internal/logging"
)

// Handler performs one external side effect and returns a short plain-text
// summary for the model to read back.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Registry is the name→handler dispatch table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	defs     map[string]llm.Tool
	log      *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		defs:     make(map[string]llm.Tool),
		log:      logging.Component("tools"),
	}
}

// Register adds a tool definition and its handler.
func (r *Registry) Register(def llm.Tool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Function.Name] = handler
	r.defs[def.Function.Name] = def
}

// Definitions returns all tool schemas in stable name order.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Execute runs a tool by name. It never returns an error: every failure
// is absorbed into a descriptive result string so a tool failure cannot
// abort the conversation turn.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) string {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Unknown tool %q.", name)
	}

	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("The %s call had malformed arguments.", name)
		}
	}

	result, err := handler(ctx, args)
	if err != nil {
		r.log.Warn("tool %s failed: %v", name, err)
		return fmt.Sprintf("The %s action could not be completed: %v.", name, err)
	}
	return result
}
