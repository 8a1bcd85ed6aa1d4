package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oritocare/companion/internal/backend"
	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/llm"
	"github.com/oritocare/companion/internal/tools"
)

// callLog records the order of requests across the fake backend and the
// fake chat-completions endpoint.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// fakeModel serves scripted assistant messages and keeps every decoded
// request for assertions on the wire format.
type fakeModel struct {
	mu       sync.Mutex
	requests []llm.Request
	replies  []core.Message
}

func (m *fakeModel) handler(log *callLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		idx := len(m.requests)
		m.requests = append(m.requests, req)
		reply := core.Message{Role: "assistant", Content: "OK."}
		if idx < len(m.replies) {
			reply = m.replies[idx]
		}
		m.mu.Unlock()
		log.add("completion")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": reply}},
		})
	}
}

func (m *fakeModel) request(t *testing.T, i int) llm.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.requests) {
		t.Fatalf("only %d completion requests were made", len(m.requests))
	}
	return m.requests[i]
}

func (m *fakeModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// newTurnAgent wires a real agent, tool service and LLM client against
// fake backend and model servers.
func newTurnAgent(t *testing.T, log *callLog, model *fakeModel) (*Agent, *atomic.Int32) {
	t.Helper()

	var sosLevel atomic.Int32
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sos/trigger":
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			level, _ := payload["level"].(float64)
			sosLevel.Store(int32(level))
			log.add("sos")
			json.NewEncoder(w).Encode(backend.SOSEvent{ID: "sos-1", Level: int(level)})
		case r.Method == http.MethodPost && r.URL.Path == "/medications/":
			log.add("add_medication")
			json.NewEncoder(w).Encode(backend.Medication{ID: "m1", Name: "Aspirin"})
		default:
			w.Write([]byte("{}"))
		}
	}))
	t.Cleanup(backendSrv.Close)

	modelSrv := httptest.NewServer(model.handler(log))
	t.Cleanup(modelSrv.Close)

	backendClient := backend.NewClient(backend.Config{BaseURL: backendSrv.URL, Token: "tok", PatientUID: "p-1"})
	toolsSvc := tools.NewService(tools.Config{Backend: backendClient})
	llmClient := llm.NewClient(llm.Config{APIKey: "key", BaseURL: modelSrv.URL, Model: "test-model"})

	return New(Config{LLM: llmClient, Tools: toolsSvc, Backend: backendClient}), &sosLevel
}

func TestSendMessageEscalatesBeforeModelCall(t *testing.T) {
	log := &callLog{}
	model := &fakeModel{replies: []core.Message{
		{Role: "assistant", Content: "Help is on the way, stay still."},
	}}
	a, sosLevel := newTurnAgent(t, log, model)

	reply, err := a.SendMessage(context.Background(), "I fell and hit my head")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "Help is on the way, stay still." {
		t.Errorf("reply = %q", reply)
	}

	entries := log.all()
	if len(entries) < 2 || entries[0] != "sos" || entries[1] != "completion" {
		t.Fatalf("call order = %v, want the alert fired before any completion", entries)
	}
	if got := sosLevel.Load(); got != 4 {
		t.Errorf("alert level = %d, want 4 for a fall", got)
	}

	req := model.request(t, 0)
	if req.ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("tool_choice = %q, want auto", req.ToolChoice)
	}
	noted := false
	for _, msg := range req.Messages {
		if msg.Role == "system" && strings.Contains(msg.Content, "already sent automatically") {
			noted = true
		}
	}
	if !noted {
		t.Error("completion request carries no note that the alert already went out")
	}
}

func TestSendMessageForcedToolDispatch(t *testing.T) {
	log := &callLog{}
	model := &fakeModel{replies: []core.Message{
		{Role: "assistant", ToolCalls: []core.ToolCall{{
			ID:   "call-1",
			Type: "function",
			Function: core.FunctionCall{
				Name:      "add_medication",
				Arguments: `{"name":"Aspirin","dosage":"100mg"}`,
			},
		}}},
		{Role: "assistant", Content: "Aspirin is on your list now."},
	}}
	a, _ := newTurnAgent(t, log, model)

	reply, err := a.SendMessage(context.Background(), "add aspirin to my medications")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "Aspirin is on your list now." {
		t.Errorf("reply = %q", reply)
	}
	if got := model.count(); got != 2 {
		t.Fatalf("completion calls = %d, want tool round plus one follow-up", got)
	}

	first := model.request(t, 0)
	if first.ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("first tool_choice = %q, want required", first.ToolChoice)
	}
	if len(first.Tools) == 0 {
		t.Error("first request carries no tool definitions")
	}

	second := model.request(t, 1)
	if second.ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("follow-up tool_choice = %q, want auto", second.ToolChoice)
	}
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Name != "add_medication" || last.ToolCallID != "call-1" {
		t.Errorf("last follow-up message = %+v, want the tool result", last)
	}
	if !strings.Contains(last.Content, "Added medication Aspirin") {
		t.Errorf("tool result = %q", last.Content)
	}
	carrier := second.Messages[len(second.Messages)-2]
	if carrier.Role != "assistant" || len(carrier.ToolCalls) != 1 {
		t.Errorf("follow-up is missing the assistant tool-call message: %+v", carrier)
	}

	entries := log.all()
	want := []string{"completion", "add_medication", "completion"}
	if len(entries) != len(want) {
		t.Fatalf("call order = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("call order = %v, want %v", entries, want)
		}
	}
}

func TestSendMessageForcedRetryOnce(t *testing.T) {
	model := &fakeModel{replies: []core.Message{
		{Role: "assistant", Content: "You could write that down yourself."},
		{Role: "assistant", Content: "I've noted it."},
	}}
	a, _ := newTurnAgent(t, &callLog{}, model)

	reply, err := a.SendMessage(context.Background(), "add aspirin to my medications")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The model skipped tools twice; exactly one extra chance, then the
	// plain answer stands.
	if got := model.count(); got != 2 {
		t.Fatalf("completion calls = %d, want exactly one retry", got)
	}
	if model.request(t, 0).ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("first tool_choice = %q, want required", model.request(t, 0).ToolChoice)
	}
	if model.request(t, 1).ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("retry tool_choice = %q, want required", model.request(t, 1).ToolChoice)
	}
	if reply != "I've noted it." {
		t.Errorf("reply = %q", reply)
	}
}
