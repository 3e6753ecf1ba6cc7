// Package history rebuilds a consistent, bounded context window from a
// session's raw message log. Partial failures leave the log with tool
// calls that never got a recorded result; those groups are excluded at
// read time rather than repaired in storage.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
)

const (
	// Windowing only kicks in once the filtered log grows past this
	// many entries.
	windowThreshold = 10
	// At most this many user turns are kept, newest first.
	maxUserTurns = 10
)

// ParseToolCalls decodes the persisted tool_calls payload of an
// assistant message. Mildly broken JSON gets one repair attempt before
// the payload is declared malformed.
func ParseToolCalls(raw string) ([]contractx.ToolCall, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var calls []contractx.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("decode tool_calls: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &calls); err != nil {
			return nil, fmt.Errorf("decode repaired tool_calls: %w", err)
		}
	}

	for _, call := range calls {
		if strings.TrimSpace(call.ID) == "" || strings.TrimSpace(call.Name) == "" {
			return nil, fmt.Errorf("tool call missing id or name")
		}
	}
	return calls, nil
}

// Reconcile filters a time-ordered message log down to a prompt-ready
// sequence: assistant turns whose tool calls lack a recorded result are
// dropped whole, dangling tool responses are dropped, and the result is
// bounded to the most recent user turns. It never fails; messages it
// cannot interpret are conservatively excluded.
func Reconcile(messages []contractx.Message) []contractx.PromptMessage {
	parsed := make(map[int][]contractx.ToolCall, len(messages))
	malformed := make(map[int]bool)

	referenced := make(map[string]bool)
	answered := make(map[string]bool)

	for i, msg := range messages {
		switch msg.Role {
		case contractx.RoleAssistant:
			if !msg.HasToolCalls() {
				continue
			}
			calls, err := ParseToolCalls(msg.ToolCallsJSON)
			if err != nil {
				malformed[i] = true
				log.Warn().
					Str("session_id", msg.SessionID).
					Str("message_id", msg.ID).
					Err(err).
					Msg("history: dropping assistant message with malformed tool_calls")
				continue
			}
			parsed[i] = calls
			for _, call := range calls {
				referenced[call.ID] = true
			}
		case contractx.RoleTool:
			answered[msg.ToolCallID] = true
		}
	}

	orphaned := make(map[string]bool)
	for id := range referenced {
		if !answered[id] {
			orphaned[id] = true
		}
	}

	// A tool response only survives when the assistant turn that
	// requested it survives; dropping the turn drops its whole group.
	kept := make(map[string]bool, len(referenced))
	dropAssistant := make(map[int]bool, len(malformed))
	for i, msg := range messages {
		if msg.Role != contractx.RoleAssistant {
			continue
		}
		if malformed[i] || dropForOrphans(msg, parsed[i], orphaned) {
			dropAssistant[i] = true
			continue
		}
		for _, call := range parsed[i] {
			kept[call.ID] = true
		}
	}

	filtered := make([]contractx.PromptMessage, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case contractx.RoleAssistant:
			if dropAssistant[i] {
				continue
			}
			filtered = append(filtered, contractx.PromptMessage{
				Role:      contractx.RoleAssistant,
				Content:   msg.Content,
				ToolCalls: parsed[i],
			})
		case contractx.RoleTool:
			if !kept[msg.ToolCallID] {
				log.Warn().
					Str("session_id", msg.SessionID).
					Str("tool_call_id", msg.ToolCallID).
					Msg("history: dropping tool response with no matching call")
				continue
			}
			filtered = append(filtered, contractx.PromptMessage{
				Role:       contractx.RoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		case contractx.RoleUser, contractx.RoleSystem:
			filtered = append(filtered, contractx.PromptMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		default:
			log.Warn().
				Str("session_id", msg.SessionID).
				Str("role", string(msg.Role)).
				Msg("history: dropping message with unknown role")
		}
	}

	return window(filtered)
}

func dropForOrphans(msg contractx.Message, calls []contractx.ToolCall, orphaned map[string]bool) bool {
	for _, call := range calls {
		if orphaned[call.ID] {
			log.Warn().
				Str("session_id", msg.SessionID).
				Str("message_id", msg.ID).
				Str("tool_call_id", call.ID).
				Msg("history: dropping assistant message with orphaned tool call")
			return true
		}
	}
	return false
}

// window keeps the suffix spanning at most maxUserTurns user messages.
// Walking backward from the newest message keeps every retained turn's
// tool-call and response messages intact, since those always sit
// between two user messages.
func window(messages []contractx.PromptMessage) []contractx.PromptMessage {
	if len(messages) <= windowThreshold {
		return messages
	}

	userTurns := 0
	start := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == contractx.RoleUser {
			userTurns++
			if userTurns > maxUserTurns {
				start = i + 1
				break
			}
		}
	}
	return messages[start:]
}
