package contract

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Session is the durable conversation record for one customer.
// The orchestration core only ever creates sessions; blocking and
// expiry are driven by external administrative operations.
type Session struct {
	ID            string    `json:"id"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	IsBlocked     bool      `json:"is_blocked"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one entry of a session's append-only log. ToolCallsJSON
// carries the raw persisted tool_calls payload; it is parsed at read
// time so corruption from partial writes stays representable.
type Message struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	ToolCallsJSON string    `json:"tool_calls,omitempty"`
	ToolCallID    string    `json:"tool_call_id,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	SentToClient  bool      `json:"sent_to_client"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && strings.TrimSpace(m.ToolCallsJSON) != ""
}

// ToolCall is a single model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// EncodeToolCalls marshals calls into the wire form stored on an
// assistant message.
func EncodeToolCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(raw)
}

// ToolExecution records one tool invocation outcome for the synthesis
// step. It lives only for the duration of a single orchestration run.
type ToolExecution struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output"`
	OK     bool   `json:"ok"`
}

// Request is an inbound customer message waiting in the session queue.
type Request struct {
	SessionID     string `json:"session_id"`
	Text          string `json:"text"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
}

// PromptMessage is a prompt-ready message handed to the model provider.
type PromptMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// CompletionRequest is one stateless call to the model provider.
type CompletionRequest struct {
	Messages []PromptMessage  `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// CompletionResponse is the provider's answer: final text, tool calls,
// or both.
type CompletionResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolPayload is the structured variant a tool may return when a plain
// string is not enough. Raw wins over Humanized, which wins over Data,
// when the result is flattened to text for the model.
type ToolPayload struct {
	Raw       string `json:"raw,omitempty"`
	Humanized string `json:"humanized,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Product is one catalog entry offered by the shop.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
}

// ToolDefinition describes a callable tool to the model provider.
// Parameters follows the JSON-schema object convention.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
