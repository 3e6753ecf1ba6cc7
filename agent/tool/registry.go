// Package tool implements the tool backend: a registry of named
// capabilities the model may call during the gathering phase.
package tool

import (
	"context"
	"fmt"

	contractx "atendai/agent/contract"
)

// Handler executes one tool call. The returned value may be a plain
// string, a contract.ToolPayload, or any JSON-serializable value.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Registry maps tool names to handlers and keeps their definitions in
// registration order.
type Registry struct {
	defs     []contractx.ToolDefinition
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(def contractx.ToolDefinition, handler Handler) {
	if handler == nil || def.Name == "" {
		return
	}
	if _, exists := r.handlers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	}
	r.handlers[def.Name] = handler
}

func (r *Registry) Definitions() []contractx.ToolDefinition {
	return append([]contractx.ToolDefinition(nil), r.defs...)
}

func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}
	return handler(ctx, args)
}
