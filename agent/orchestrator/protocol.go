package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
)

// Protocol states. Gathering rounds repeat while the model keeps
// requesting tools; exhaustion forces synthesis instead of failing.
type protocolPhase string

const (
	phaseAnalyzing protocolPhase = "analyzing"
	phaseGathering protocolPhase = "gathering_data"
	phaseReady     protocolPhase = "ready_to_respond"
	phaseExhausted protocolPhase = "iteration_exhausted"
)

// runProtocol executes the two-phase gather-then-respond protocol.
// Phase 1 loops bounded collection rounds; a response without tool
// calls ends it naturally and its content becomes the candidate
// answer. When the bound is exhausted, one forced synthesis call is
// made instead, even when no tool result was ever collected.
func (s *Service) runProtocol(ctx context.Context, in *runState) (*runState, error) {
	prompt := make([]contractx.PromptMessage, 0, len(in.Context)+2)
	if in.Guidance != "" {
		prompt = append(prompt, contractx.PromptMessage{Role: contractx.RoleSystem, Content: in.Guidance})
	}
	prompt = append(prompt, in.Context...)
	prompt = append(prompt, contractx.PromptMessage{Role: contractx.RoleUser, Content: in.Req.Text})

	tools := s.tools.Definitions()
	phase := phaseAnalyzing

	for round := 1; round <= s.maxToolRounds; round++ {
		resp, err := s.model.Complete(ctx, contractx.CompletionRequest{
			Messages: prompt,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: collection round %d: %v", contractx.ErrModelInvoke, round, err)
		}

		if len(resp.ToolCalls) == 0 {
			phase = phaseReady
			in.RawAnswer = resp.Content
			log.Debug().
				Str("session_id", in.Req.SessionID).
				Int("round", round).
				Str("phase", string(phase)).
				Msg("protocol: model answered without tool calls")
			break
		}

		phase = phaseGathering
		log.Debug().
			Str("session_id", in.Req.SessionID).
			Int("round", round).
			Int("tool_calls", len(resp.ToolCalls)).
			Str("phase", string(phase)).
			Msg("protocol: executing tool round")

		assistant := s.newMessage(in.Req.SessionID, contractx.RoleAssistant, resp.Content)
		assistant.ToolCallsJSON = contractx.EncodeToolCalls(resp.ToolCalls)
		if err := s.messages.Append(ctx, &assistant); err != nil {
			return nil, err
		}
		prompt = append(prompt, contractx.PromptMessage{
			Role:      contractx.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tool responses are persisted in call order, one message
		// per requested call, failures included.
		for _, call := range resp.ToolCalls {
			exec := s.invokeTool(ctx, call)
			in.Executions = append(in.Executions, exec)

			toolMsg := s.newMessage(in.Req.SessionID, contractx.RoleTool, exec.Output)
			toolMsg.ToolCallID = call.ID
			toolMsg.ToolName = call.Name
			if err := s.messages.Append(ctx, &toolMsg); err != nil {
				return nil, err
			}
			prompt = append(prompt, contractx.PromptMessage{
				Role:       contractx.RoleTool,
				Content:    exec.Output,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	if phase == phaseReady {
		return in, nil
	}

	phase = phaseExhausted
	log.Warn().
		Str("session_id", in.Req.SessionID).
		Int("max_rounds", s.maxToolRounds).
		Str("phase", string(phase)).
		Msg("protocol: collection bound exhausted, forcing synthesis")

	if len(in.Executions) > 0 {
		prompt = append(prompt, contractx.PromptMessage{
			Role:    contractx.RoleSystem,
			Content: synthesisInstruction(in.Executions),
		})
	}

	resp, err := s.model.Complete(ctx, contractx.CompletionRequest{Messages: prompt})
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.ToolCalls) > 0 {
		log.Warn().
			Str("session_id", in.Req.SessionID).
			Int("tool_calls", len(resp.ToolCalls)).
			Msg("protocol: synthesis still requested tools, ignoring")
	}
	in.RawAnswer = resp.Content
	return in, nil
}

// invokeTool runs one requested call with full containment: argument
// decode failures, backend errors and panics all become a synthetic
// failed result instead of aborting the round.
func (s *Service) invokeTool(ctx context.Context, call contractx.ToolCall) contractx.ToolExecution {
	input := strings.TrimSpace(string(call.Arguments))

	args := map[string]any{}
	if input != "" {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failedExecution(call, input, fmt.Errorf("argumentos inválidos: %v", err))
		}
	}

	result, err := s.safeInvoke(ctx, call.Name, args)
	if err != nil {
		log.Warn().
			Str("tool", call.Name).
			Err(err).
			Msg("protocol: tool invocation failed")
		return failedExecution(call, input, err)
	}

	return contractx.ToolExecution{
		Name:   call.Name,
		Input:  input,
		Output: normalizeToolResult(result),
		OK:     true,
	}
}

func (s *Service) safeInvoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return s.tools.Invoke(ctx, name, args)
}

func failedExecution(call contractx.ToolCall, input string, err error) contractx.ToolExecution {
	return contractx.ToolExecution{
		Name:   call.Name,
		Input:  input,
		Output: fmt.Sprintf("A ferramenta %s falhou: %v", call.Name, err),
		OK:     false,
	}
}

// normalizeToolResult flattens a tool's return value to the text that
// goes into the tool-role message. Precedence: plain string as-is,
// then the payload's raw/humanized/data fields, then the JSON of the
// whole value.
func normalizeToolResult(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case contractx.ToolPayload:
		if v.Raw != "" {
			return v.Raw
		}
		if v.Humanized != "" {
			return v.Humanized
		}
		if v.Data != nil {
			return marshalOr(v.Data)
		}
		return ""
	case map[string]any:
		for _, key := range []string{"raw", "humanized", "data"} {
			if field, ok := v[key]; ok {
				if text, isString := field.(string); isString {
					return text
				}
				return marshalOr(field)
			}
		}
		return marshalOr(v)
	default:
		return marshalOr(v)
	}
}

func marshalOr(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}

func synthesisInstruction(executions []contractx.ToolExecution) string {
	var b strings.Builder
	b.WriteString("Com base nos resultados de ferramentas abaixo, produza uma única resposta final para o cliente, sem novas chamadas de ferramenta.\n")
	for _, exec := range executions {
		status := "ok"
		if !exec.OK {
			status = "falhou"
		}
		fmt.Fprintf(&b, "- ferramenta: %s | entrada: %s | status: %s | resultado: %s\n",
			exec.Name, exec.Input, status, exec.Output)
	}
	return strings.TrimSpace(b.String())
}
