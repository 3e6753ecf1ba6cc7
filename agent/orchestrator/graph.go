package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "atendai/agent/contract"
)

// runState carries one request through the pipeline nodes.
type runState struct {
	Req     contractx.Request
	Session *contractx.Session

	// Context is the reconciled history, loaded before the inbound
	// message is persisted.
	Context    []contractx.PromptMessage
	Guidance   string
	RawAnswer  string
	Executions []contractx.ToolExecution
}

type runOutput struct {
	Reply string
}

func (s *Service) compileRunGraph(ctx context.Context) (compose.Runnable[contractx.Request, runOutput], error) {
	graph := compose.NewGraph[contractx.Request, runOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, req contractx.Request) (*runState, error) {
			return validateRequest(req)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_session",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (*runState, error) {
			return s.loadOrCreateSession(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_session: %w", err)
	}

	if err := graph.AddLambdaNode("blocked_notice",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (runOutput, error) {
			return runOutput{Reply: BlockedNotice}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node blocked_notice: %w", err)
	}

	if err := graph.AddLambdaNode("reconcile_history",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (*runState, error) {
			return s.reconcileHistory(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node reconcile_history: %w", err)
	}

	if err := graph.AddLambdaNode("persist_inbound",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (*runState, error) {
			return s.persistInbound(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node persist_inbound: %w", err)
	}

	if err := graph.AddLambdaNode("select_guidance",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (*runState, error) {
			return s.selectGuidance(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node select_guidance: %w", err)
	}

	if err := graph.AddLambdaNode("run_protocol",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (*runState, error) {
			return s.runProtocol(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_protocol: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *runState) (runOutput, error) {
			return s.finalizeReply(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *runState) (string, error) {
			if in == nil || in.Session == nil {
				return "", fmt.Errorf("%w: run state is incomplete", contractx.ErrValidation)
			}
			if in.Session.IsBlocked {
				return "blocked_notice", nil
			}
			return "reconcile_history", nil
		},
		map[string]bool{
			"blocked_notice":    true,
			"reconcile_history": true,
		},
	)

	if err := graph.AddEdge(compose.START, "validate_request"); err != nil {
		return nil, fmt.Errorf("add edge start->validate: %w", err)
	}
	if err := graph.AddEdge("validate_request", "load_or_create_session"); err != nil {
		return nil, fmt.Errorf("add edge validate->load: %w", err)
	}
	if err := graph.AddBranch("load_or_create_session", branch); err != nil {
		return nil, fmt.Errorf("add blocked branch: %w", err)
	}
	if err := graph.AddEdge("blocked_notice", compose.END); err != nil {
		return nil, fmt.Errorf("add edge blocked->end: %w", err)
	}

	edges := [][2]string{
		{"reconcile_history", "persist_inbound"},
		{"persist_inbound", "select_guidance"},
		{"select_guidance", "run_protocol"},
		{"run_protocol", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_request"))
	if err != nil {
		return nil, fmt.Errorf("compile run graph: %w", err)
	}
	return runner, nil
}
