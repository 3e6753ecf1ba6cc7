package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	contractx "atendai/agent/contract"
	historyx "atendai/agent/history"
	sanitizex "atendai/agent/sanitize"
)

func validateRequest(req contractx.Request) (*runState, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Text = strings.TrimSpace(req.Text)

	if req.SessionID == "" {
		return nil, ErrInvalidSession
	}
	if req.Text == "" {
		return nil, ErrInvalidMessage
	}
	return &runState{Req: req}, nil
}

func (s *Service) loadOrCreateSession(ctx context.Context, in *runState) (*runState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: run state is nil", contractx.ErrValidation)
	}

	session, err := s.sessions.Find(ctx, in.Req.SessionID)
	if err == nil {
		in.Session = session
		return in, nil
	}
	if !errors.Is(err, contractx.ErrSessionNotFound) {
		return nil, err
	}

	now := s.now()
	created := &contractx.Session{
		ID:            in.Req.SessionID,
		CustomerPhone: in.Req.CustomerPhone,
		ExpiresAt:     now.Add(s.sessionTTL),
		CreatedAt:     now,
	}
	if err := s.sessions.Create(ctx, created); err != nil {
		return nil, err
	}
	in.Session = created
	return in, nil
}

// reconcileHistory loads the log before the inbound message is
// persisted, so the new user text can be appended to the prompt
// exactly once.
func (s *Service) reconcileHistory(ctx context.Context, in *runState) (*runState, error) {
	stored, err := s.messages.List(ctx, in.Req.SessionID)
	if err != nil {
		return nil, err
	}
	in.Context = historyx.Reconcile(stored)
	return in, nil
}

func (s *Service) persistInbound(ctx context.Context, in *runState) (*runState, error) {
	msg := s.newMessage(in.Req.SessionID, contractx.RoleUser, in.Req.Text)
	if err := s.messages.Append(ctx, &msg); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) selectGuidance(ctx context.Context, in *runState) (*runState, error) {
	in.Guidance = s.selector.Compose(ctx, s.guidance, in.Req.Text)
	return in, nil
}

// finalizeReply sanitizes the protocol's candidate answer, falls back
// to the fixed apology when nothing presentable remains, persists the
// outbound message and notifies the outbound channel.
func (s *Service) finalizeReply(ctx context.Context, in *runState) (runOutput, error) {
	reply, ok := sanitizex.Clean(in.RawAnswer)
	if !ok {
		reply = FallbackReply
	}

	msg := s.newMessage(in.Req.SessionID, contractx.RoleAssistant, reply)
	msg.SentToClient = true
	if err := s.messages.Append(ctx, &msg); err != nil {
		return runOutput{}, err
	}

	s.notifyReply(ctx, in.Session, reply)
	return runOutput{Reply: reply}, nil
}

func (s *Service) newMessage(sessionID string, role contractx.Role, content string) contractx.Message {
	return contractx.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
}
