package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "atendai/agent/contract"
	storex "atendai/agent/store"
	toolx "atendai/agent/tool"
)

type fakeModel struct {
	mu sync.Mutex
	// Scripted responses, consumed per call; the last one repeats when
	// the script runs out.
	resps []*contractx.CompletionResponse
	// Returned for calls made without tool definitions, when set.
	noToolResp *contractx.CompletionResponse
	errAt      map[int]error
	reqs       []contractx.CompletionRequest
}

func (f *fakeModel) Complete(ctx context.Context, req contractx.CompletionRequest) (*contractx.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	if err := f.errAt[n]; err != nil {
		return nil, err
	}
	if len(req.Tools) == 0 && f.noToolResp != nil {
		return f.noToolResp, nil
	}
	if len(f.resps) == 0 {
		return nil, fmt.Errorf("no scripted response at call %d", n)
	}
	idx := n - 1
	if idx >= len(f.resps) {
		idx = len(f.resps) - 1
	}
	return f.resps[idx], nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeModel) request(i int) contractx.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

type notification struct {
	sessionID string
	phone     string
	text      string
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notification
}

func (f *fakeNotifier) NotifyReply(ctx context.Context, sessionID, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification{sessionID: sessionID, phone: phone, text: text})
	return nil
}

func newTestStore() *storex.Memory {
	mem := storex.NewMemory()
	mem.SeedGuidance(map[string]string{
		"base":     "Você é a atendente da loja de cestas.",
		"catalogo": "Apresente no máximo três opções.",
	})
	mem.SeedProducts([]contractx.Product{
		{ID: "cesta-aniversario", Name: "Cesta Aniversário", Description: "bolo e espumante", Price: 99.00},
		{ID: "cesta-premium", Name: "Cesta Premium", Description: "queijos finos", Price: 159.90},
	})
	return mem
}

func newTestService(t *testing.T, mem *storex.Memory, model contractx.ModelProvider, tools contractx.ToolGateway, notifier contractx.Notifier, cfg Config) *Service {
	t.Helper()

	if tools == nil {
		tools = toolx.NewCatalog(mem)
	}
	s, err := New(mem, mem, model, tools, mem, nil, notifier, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func searchCall(id string) contractx.ToolCall {
	return contractx.ToolCall{
		ID:        id,
		Name:      toolx.ToolCatalogSearch,
		Arguments: json.RawMessage(`{"query": "cesta", "max_price": 100}`),
	}
}

func TestSubmitInvalidInput(t *testing.T) {
	t.Parallel()

	s := newTestService(t, newTestStore(), &fakeModel{}, nil, nil, Config{})

	if _, err := s.Submit(context.Background(), "   ", "oi", "", ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := s.Submit(context.Background(), "s1", "   ", "", ""); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	t.Parallel()

	final := "Temos a Cesta Aniversário por R$ 99,00. Quer que eu reserve?"
	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{ToolCalls: []contractx.ToolCall{searchCall("call-1")}},
			{Content: final},
		},
	}
	notifier := &fakeNotifier{}
	mem := newTestStore()
	s := newTestService(t, mem, model, nil, notifier, Config{})

	reply, err := s.Submit(context.Background(), "s1", "quero uma cesta de até 100 reais", "+5511988887777", "Ana")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != final {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if model.calls() != 2 {
		t.Fatalf("expected 2 model calls, got %d", model.calls())
	}

	// First call: guidance system message, then the user text, with
	// the tool definitions attached.
	first := model.request(0)
	if len(first.Tools) != 2 {
		t.Fatalf("expected tool definitions on first call, got %d", len(first.Tools))
	}
	if first.Messages[0].Role != contractx.RoleSystem ||
		!strings.Contains(first.Messages[0].Content, "atendente da loja") ||
		!strings.Contains(first.Messages[0].Content, "três opções") {
		t.Fatalf("unexpected system message: %+v", first.Messages[0])
	}
	if last := first.Messages[len(first.Messages)-1]; last.Role != contractx.RoleUser {
		t.Fatalf("expected user message last, got %+v", last)
	}

	// Second call sees the assistant tool turn and its result.
	second := model.request(1)
	var sawToolResult bool
	for _, msg := range second.Messages {
		if msg.Role == contractx.RoleTool && msg.ToolCallID == "call-1" {
			sawToolResult = true
			if !strings.Contains(msg.Content, "Cesta Aniversário") {
				t.Fatalf("unexpected tool result: %q", msg.Content)
			}
		}
	}
	if !sawToolResult {
		t.Fatalf("second call missing tool result")
	}

	// Persisted log: user, assistant tool turn, tool result, final.
	logged, err := mem.List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(logged) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d", len(logged))
	}
	if logged[0].Role != contractx.RoleUser ||
		logged[1].Role != contractx.RoleAssistant || !logged[1].HasToolCalls() ||
		logged[2].Role != contractx.RoleTool || logged[2].ToolCallID != "call-1" ||
		logged[3].Role != contractx.RoleAssistant || !logged[3].SentToClient {
		t.Fatalf("unexpected persisted log: %+v", logged)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].text != final || notifier.sent[0].phone != "+5511988887777" {
		t.Fatalf("unexpected notifications: %+v", notifier.sent)
	}
}

func TestSubmitBlockedSessionShortCircuits(t *testing.T) {
	t.Parallel()

	mem := newTestStore()
	if err := mem.Create(context.Background(), &contractx.Session{ID: "s1", IsBlocked: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	model := &fakeModel{}
	s := newTestService(t, mem, model, nil, nil, Config{})

	reply, err := s.Submit(context.Background(), "s1", "oi, alguém aí?", "", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != BlockedNotice {
		t.Fatalf("expected blocked notice, got %q", reply)
	}
	if model.calls() != 0 {
		t.Fatalf("model should not be called for blocked sessions, got %d calls", model.calls())
	}
	if logged, _ := mem.List(context.Background(), "s1"); len(logged) != 0 {
		t.Fatalf("blocked request should not be persisted, got %d messages", len(logged))
	}
}

func TestSubmitIterationBoundForcesSynthesis(t *testing.T) {
	t.Parallel()

	synthesis := "Resumindo: a melhor opção até 100 reais é a Cesta Aniversário."
	model := &fakeModel{
		// The model keeps asking for tools every round.
		resps: []*contractx.CompletionResponse{
			{ToolCalls: []contractx.ToolCall{searchCall("call-loop")}},
		},
		noToolResp: &contractx.CompletionResponse{Content: synthesis},
	}
	mem := newTestStore()
	s := newTestService(t, mem, model, nil, nil, Config{MaxToolRounds: 3})

	reply, err := s.Submit(context.Background(), "s1", "quero uma cesta de 100 reais", "", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != synthesis {
		t.Fatalf("unexpected reply: %q", reply)
	}

	// Three bounded collection rounds, then one synthesis call.
	if model.calls() != 4 {
		t.Fatalf("expected 4 model calls, got %d", model.calls())
	}
	last := model.request(3)
	if len(last.Tools) != 0 {
		t.Fatalf("synthesis call must not offer tools, got %d", len(last.Tools))
	}
	instruction := last.Messages[len(last.Messages)-1]
	if instruction.Role != contractx.RoleSystem || !strings.Contains(instruction.Content, "resposta final") {
		t.Fatalf("expected synthesis instruction last, got %+v", instruction)
	}
	if !strings.Contains(instruction.Content, toolx.ToolCatalogSearch) {
		t.Fatalf("instruction should list executed tools, got %q", instruction.Content)
	}

	// user + 3x(assistant tool turn + tool result) + final assistant.
	if logged, _ := mem.List(context.Background(), "s1"); len(logged) != 8 {
		t.Fatalf("expected 8 persisted messages, got %d", len(logged))
	}
}

func TestSubmitDefaultBoundIsTenRounds(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{ToolCalls: []contractx.ToolCall{searchCall("call-loop")}},
		},
		noToolResp: &contractx.CompletionResponse{Content: "Resumo final das opções encontradas."},
	}
	s := newTestService(t, newTestStore(), model, nil, nil, Config{})

	if _, err := s.Submit(context.Background(), "s1", "quero uma cesta", "", ""); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	// Ten collection rounds plus the synthesis call.
	if model.calls() != 11 {
		t.Fatalf("expected 11 model calls, got %d", model.calls())
	}
}

func TestSubmitToolFailureIsContained(t *testing.T) {
	t.Parallel()

	registry := toolx.NewRegistry()
	registry.Register(contractx.ToolDefinition{Name: "estoque.consultar"}, func(ctx context.Context, args map[string]any) (any, error) {
		return "3 unidades disponíveis", nil
	})
	registry.Register(contractx.ToolDefinition{Name: "frete.cotar"}, func(ctx context.Context, args map[string]any) (any, error) {
		panic("freight service offline")
	})

	final := "Temos 3 unidades. O frete eu confirmo em seguida, tudo bem?"
	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{ToolCalls: []contractx.ToolCall{
				{ID: "c1", Name: "estoque.consultar", Arguments: json.RawMessage(`{}`)},
				{ID: "c2", Name: "frete.cotar", Arguments: json.RawMessage(`{}`)},
			}},
			{Content: final},
		},
	}
	mem := newTestStore()
	s := newTestService(t, mem, model, registry, nil, Config{})

	reply, err := s.Submit(context.Background(), "s1", "tem cesta premium em estoque?", "", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != final {
		t.Fatalf("unexpected reply: %q", reply)
	}

	logged, _ := mem.List(context.Background(), "s1")
	var toolMsgs []contractx.Message
	for _, msg := range logged {
		if msg.Role == contractx.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(toolMsgs))
	}
	if toolMsgs[0].ToolCallID != "c1" || toolMsgs[0].Content != "3 unidades disponíveis" {
		t.Fatalf("unexpected first tool result: %+v", toolMsgs[0])
	}
	if toolMsgs[1].ToolCallID != "c2" || !strings.Contains(toolMsgs[1].Content, "falhou") {
		t.Fatalf("expected failure message for second call, got %+v", toolMsgs[1])
	}
}

func TestSubmitUnpresentableAnswerFallsBack(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{Content: "[debug] route=sales state=done"},
		},
	}
	mem := newTestStore()
	s := newTestService(t, mem, model, nil, nil, Config{})

	reply, err := s.Submit(context.Background(), "s1", "oi", "", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != FallbackReply {
		t.Fatalf("expected fallback reply, got %q", reply)
	}

	logged, _ := mem.List(context.Background(), "s1")
	lastMsg := logged[len(logged)-1]
	if lastMsg.Content != FallbackReply || !lastMsg.SentToClient {
		t.Fatalf("fallback should be persisted as sent, got %+v", lastMsg)
	}
}

func TestSubmitModelErrorPropagatesAndQueueSurvives(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{Content: "Agora sim! Em que posso ajudar?"},
		},
		errAt: map[int]error{1: errors.New("upstream 502")},
	}
	mem := newTestStore()
	s := newTestService(t, mem, model, nil, nil, Config{})

	if _, err := s.Submit(context.Background(), "s1", "oi", "", ""); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}

	reply, err := s.Submit(context.Background(), "s1", "oi de novo", "", "")
	if err != nil {
		t.Fatalf("second request should succeed, got %v", err)
	}
	if reply != "Agora sim! Em que posso ajudar?" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSubmitNotifierFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{Content: "Entrega em até 2 dias úteis."},
		},
	}
	s := newTestService(t, newTestStore(), model, nil, &fakeNotifier{err: errors.New("webhook down")}, Config{})

	reply, err := s.Submit(context.Background(), "s1", "qual o prazo?", "", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reply != "Entrega em até 2 dias úteis." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSessionCreatedWithTTL(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		resps: []*contractx.CompletionResponse{
			{Content: "Olá! Como posso ajudar?"},
		},
	}
	mem := newTestStore()
	s := newTestService(t, mem, model, nil, nil, Config{SessionTTL: time.Hour})

	if _, err := s.Submit(context.Background(), "s1", "oi", "+5511911112222", ""); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	session, err := mem.Find(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if session.CustomerPhone != "+5511911112222" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", got)
	}
}
