package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	contractx "atendai/agent/contract"
	openrouterx "atendai/pkg/openrouter"
)

// Provider adapts the OpenAI-compatible chat completion API (served
// through OpenRouter) to the orchestrator's model contract.
type Provider struct {
	client      *openaisdk.Client
	model       shared.ChatModel
	maxTokens   int
	temperature float64
}

var _ contractx.ModelProvider = (*Provider)(nil)

func NewProvider(client *openaisdk.Client, cfg openrouterx.Config) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: llm client is required", contractx.ErrValidation)
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", contractx.ErrValidation)
	}
	return &Provider{
		client:      client,
		model:       shared.ChatModel(modelName),
		maxTokens:   cfg.MaxCompletionToken,
		temperature: cfg.Temperature,
	}, nil
}

func (p *Provider) Complete(ctx context.Context, req contractx.CompletionRequest) (*contractx.CompletionResponse, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toSDKMessages(req.Messages),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(p.maxTokens))
	}
	if p.temperature >= 0 {
		params.Temperature = openaisdk.Float(p.temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion returned no choices", contractx.ErrModelInvoke)
	}

	choice := resp.Choices[0].Message
	out := &contractx.CompletionResponse{Content: choice.Content}
	for _, call := range choice.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := call.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, contractx.ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out, nil
}

func toSDKMessages(messages []contractx.PromptMessage) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case contractx.RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case contractx.RoleAssistant:
			assistant := openaisdk.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openaisdk.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case contractx.RoleTool:
			tool := openaisdk.ChatCompletionToolMessageParam{ToolCallID: msg.ToolCallID}
			tool.Content.OfString = openaisdk.String(msg.Content)
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfTool: &tool})
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

func toSDKTools(defs []contractx.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openaisdk.String(def.Description),
				Parameters:  shared.FunctionParameters(def.Parameters),
			},
		})
	}
	return out
}
