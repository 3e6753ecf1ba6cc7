package contract

import "context"

// SessionStore persists session records.
type SessionStore interface {
	// Find returns the session or ErrSessionNotFound.
	Find(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, session *Session) error
	// SetBlocked flips the administrative blocked flag. The
	// orchestration core only reads it.
	SetBlocked(ctx context.Context, id string, blocked bool) error
}

// MessageStore persists the append-only message log of a session.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	// List returns all messages of a session ordered by creation
	// time ascending.
	List(ctx context.Context, sessionID string) ([]Message, error)
}

// ModelProvider is the stateless chat-completion contract.
type ModelProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ToolGateway executes named tools on behalf of the model.
type ToolGateway interface {
	Definitions() []ToolDefinition
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// ProductStore looks up catalog entries for the tool backend.
type ProductStore interface {
	// SearchProducts returns entries matching the query term, bounded
	// by maxPrice when it is positive.
	SearchProducts(ctx context.Context, query string, maxPrice float64) ([]Product, error)
}

// GuidanceSource resolves a guidance identifier to its text. Lookups
// may fail per identifier.
type GuidanceSource interface {
	Guidance(ctx context.Context, id string) (string, error)
}

// Notifier publishes a finished reply to an outbound channel.
// Delivery is best effort and never affects the run outcome.
type Notifier interface {
	NotifyReply(ctx context.Context, sessionID, phone, text string) error
}
