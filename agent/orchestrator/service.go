// Package orchestrator drives one customer request through the full
// pipeline: admission queue, session load, history reconciliation,
// guidance selection, the bounded tool-calling protocol, sanitization
// and persistence of the final reply.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "atendai/agent/contract"
	guidancex "atendai/agent/guidance"
	queuex "atendai/agent/queue"
)

var (
	ErrInvalidSession = errors.New("session id is required")
	ErrInvalidMessage = errors.New("message text is required")
)

const (
	// BlockedNotice short-circuits the pipeline for blocked sessions.
	BlockedNotice = "Este atendimento está temporariamente suspenso. Por favor, procure nossos outros canais."
	// FallbackReply replaces a final answer that came back empty or
	// was rejected by sanitization.
	FallbackReply = "Desculpe, não consegui montar uma resposta agora. Pode tentar novamente em instantes?"
)

type Config struct {
	MaxToolRounds int           `envconfig:"MAX_TOOL_ROUNDS" split_words:"true" default:"10"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" split_words:"true" default:"24h"`
}

type Service struct {
	sessions contractx.SessionStore
	messages contractx.MessageStore
	model    contractx.ModelProvider
	tools    contractx.ToolGateway
	guidance contractx.GuidanceSource
	selector *guidancex.Selector
	notifier contractx.Notifier

	queue       *queuex.Queue
	graphRunner compose.Runnable[contractx.Request, runOutput]

	maxToolRounds int
	sessionTTL    time.Duration

	now func() time.Time
}

func New(
	sessions contractx.SessionStore,
	messages contractx.MessageStore,
	model contractx.ModelProvider,
	tools contractx.ToolGateway,
	guidanceSource contractx.GuidanceSource,
	selector *guidancex.Selector,
	notifier contractx.Notifier,
	cfg Config,
) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if messages == nil {
		return nil, errors.New("message store is required")
	}
	if model == nil {
		return nil, errors.New("model provider is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if guidanceSource == nil {
		return nil, errors.New("guidance source is required")
	}
	if selector == nil {
		selector = guidancex.NewSelector(nil)
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = 10
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}

	s := &Service{
		sessions:      sessions,
		messages:      messages,
		model:         model,
		tools:         tools,
		guidance:      guidanceSource,
		selector:      selector,
		notifier:      notifier,
		maxToolRounds: maxToolRounds,
		sessionTTL:    sessionTTL,
		now:           time.Now,
	}

	graphRunner, err := s.compileRunGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	q, err := queuex.New(func(ctx context.Context, req contractx.Request) (string, error) {
		out, err := s.graphRunner.Invoke(ctx, req)
		if err != nil {
			return "", err
		}
		return out.Reply, nil
	})
	if err != nil {
		return nil, err
	}
	s.queue = q

	return s, nil
}

// Submit is the public operation: it enqueues one customer message and
// blocks until that message's pipeline run completed. Requests for one
// session run strictly in submission order.
func (s *Service) Submit(ctx context.Context, sessionID, userText, customerPhone, customerName string) (string, error) {
	return s.queue.Submit(ctx, contractx.Request{
		SessionID:     sessionID,
		Text:          userText,
		CustomerPhone: customerPhone,
		CustomerName:  customerName,
	})
}

func (s *Service) notifyReply(ctx context.Context, session *contractx.Session, text string) {
	if err := s.notifier.NotifyReply(ctx, session.ID, session.CustomerPhone, text); err != nil {
		log.Warn().
			Str("session_id", session.ID).
			Err(err).
			Msg("orchestrator: outbound notification failed")
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyReply(context.Context, string, string, string) error {
	return nil
}
