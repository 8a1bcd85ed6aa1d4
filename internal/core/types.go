// Package core defines the fundamental types and errors for the companion.
package core

import "time"

// ModuleDescriptor identifies one discovered Aura module on the local network.
type ModuleDescriptor struct {
	ServiceID string `json:"service_id"`
	Hostname  string `json:"hostname"`
	IP        string `json:"ip"`
	WSPort    int    `json:"ws_port"`
	HTTPPort  int    `json:"http_port"`
	Version   string `json:"version"`
}

// ConnectionState is the module session lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// WakeWordState is the voice assistant cycle state.
type WakeWordState string

const (
	WakeIdle       WakeWordState = "idle"
	WakeListening  WakeWordState = "listening"
	WakeProcessing WakeWordState = "processing"
	WakeSpeaking   WakeWordState = "speaking"
)

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// RelativeRef is a relative as the agent needs to know them.
type RelativeRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone,omitempty"`
}

// UserContext is the accumulated profile/preference/emotion cache.
// Never authoritative; a profile refresh always supersedes it.
type UserContext struct {
	Name            string        `json:"name"`
	Age             int           `json:"age,omitempty"`
	Condition       string        `json:"condition,omitempty"`
	Severity        string        `json:"severity,omitempty"`
	Preferences     []string      `json:"preferences,omitempty"`
	Medications     []string      `json:"medications,omitempty"`
	Relatives       []RelativeRef `json:"relatives,omitempty"`
	RecentEmotions  []string      `json:"recent_emotions,omitempty"`
	LastInteraction time.Time     `json:"last_interaction"`
}

// PushEmotion appends to the rolling emotion window, keeping the last 10.
func (u *UserContext) PushEmotion(emotion string) {
	u.RecentEmotions = append(u.RecentEmotions, emotion)
	if len(u.RecentEmotions) > 10 {
		u.RecentEmotions = u.RecentEmotions[len(u.RecentEmotions)-10:]
	}
}

// AuraStatusSnapshot is the last verified module connectivity status,
// held only for the life of the process.
type AuraStatusSnapshot struct {
	Connected bool       `json:"connected"`
	Message   string     `json:"message"`
	IP        string     `json:"ip,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Features  []string   `json:"features"`
	CheckedAt time.Time  `json:"checked_at"`
}
