package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "atendai/agent/contract"
)

// Memory keeps everything in process. Used by tests and local runs
// without a database.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]contractx.Session
	messages map[string][]contractx.Message
	guidance map[string]string
	products []contractx.Product
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]contractx.Session),
		messages: make(map[string][]contractx.Message),
		guidance: make(map[string]string),
	}
}

func (m *Memory) Find(ctx context.Context, id string) (*contractx.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, contractx.ErrSessionNotFound
	}
	return &session, nil
}

func (m *Memory) Create(ctx context.Context, session *contractx.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *Memory) SetBlocked(ctx context.Context, id string, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return contractx.ErrSessionNotFound
	}
	session.IsBlocked = blocked
	m.sessions[id] = session
	return nil
}

func (m *Memory) Append(ctx context.Context, msg *contractx.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *Memory) List(ctx context.Context, sessionID string) ([]contractx.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]contractx.Message(nil), m.messages[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Guidance(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.guidance[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrGuidanceNotFound, id)
	}
	return content, nil
}

func (m *Memory) SeedGuidance(entries map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, content := range entries {
		m.guidance[id] = content
	}
}

func (m *Memory) SearchProducts(ctx context.Context, query string, maxPrice float64) ([]contractx.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(query))

	var out []contractx.Product
	for _, product := range m.products {
		if maxPrice > 0 && product.Price > maxPrice {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(product.Name), term) &&
			!strings.Contains(strings.ToLower(product.Description), term) {
			continue
		}
		out = append(out, product)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price < out[j].Price
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (m *Memory) SeedProducts(products []contractx.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.products = append(m.products, products...)
}
