// Package store provides the persistence implementations consumed by
// the orchestration core: a bun-backed Postgres store and an in-memory
// store for tests and local development.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "atendai/agent/contract"
)

var ErrGuidanceNotFound = errors.New("guidance not found")

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// Postgres implements the session, message, guidance and product
// contracts on a single bun database handle.
type Postgres struct {
	db *bun.DB
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return &Postgres{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID            string    `bun:"id,pk"`
	CustomerPhone string    `bun:"customer_phone,nullzero"`
	IsBlocked     bool      `bun:"is_blocked,notnull,default:false"`
	ExpiresAt     time.Time `bun:"expires_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID           string    `bun:"id,pk"`
	SessionID    string    `bun:"session_id,notnull"`
	Role         string    `bun:"role,notnull"`
	Content      string    `bun:"content"`
	ToolCalls    string    `bun:"tool_calls,nullzero"`
	ToolCallID   string    `bun:"tool_call_id,nullzero"`
	ToolName     string    `bun:"tool_name,nullzero"`
	SentToClient bool      `bun:"sent_to_client,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type guidanceRow struct {
	bun.BaseModel `bun:"table:guidance,alias:g"`

	ID      string `bun:"id,pk"`
	Content string `bun:"content,notnull"`
}

type productRow struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID          string  `bun:"id,pk"`
	Name        string  `bun:"name,notnull"`
	Description string  `bun:"description"`
	Price       float64 `bun:"price,notnull"`
}

// Init creates the tables when they do not exist yet. Meant for local
// setups; production schemas are migrated externally.
func (p *Postgres) Init(ctx context.Context) error {
	models := []any{
		(*sessionRow)(nil),
		(*messageRow)(nil),
		(*guidanceRow)(nil),
		(*productRow)(nil),
	}
	for _, model := range models {
		if _, err := p.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Find(ctx context.Context, id string) (*contractx.Session, error) {
	var row sessionRow
	err := p.db.NewSelect().Model(&row).Where("s.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractx.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	session := sessionFromRow(row)
	return &session, nil
}

func (p *Postgres) Create(ctx context.Context, session *contractx.Session) error {
	row := sessionToRow(*session)
	if _, err := p.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (p *Postgres) SetBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := p.db.NewUpdate().
		Model((*sessionRow)(nil)).
		Set("is_blocked = ?", blocked).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return contractx.ErrSessionNotFound
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, msg *contractx.Message) error {
	row := messageToRow(*msg)
	if _, err := p.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, sessionID string) ([]contractx.Message, error) {
	var rows []messageRow
	err := p.db.NewSelect().
		Model(&rows).
		Where("m.session_id = ?", sessionID).
		Order("m.created_at ASC", "m.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]contractx.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, messageFromRow(row))
	}
	return messages, nil
}

func (p *Postgres) Guidance(ctx context.Context, id string) (string, error) {
	var row guidanceRow
	err := p.db.NewSelect().Model(&row).Where("g.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrGuidanceNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("load guidance: %w", err)
	}
	return row.Content, nil
}

func (p *Postgres) SearchProducts(ctx context.Context, query string, maxPrice float64) ([]contractx.Product, error) {
	var rows []productRow
	q := p.db.NewSelect().Model(&rows)
	if term := strings.TrimSpace(query); term != "" {
		like := "%" + term + "%"
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("p.name ILIKE ?", like).WhereOr("p.description ILIKE ?", like)
		})
	}
	if maxPrice > 0 {
		q = q.Where("p.price <= ?", maxPrice)
	}
	if err := q.Order("p.price ASC").Limit(10).Scan(ctx); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	products := make([]contractx.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, contractx.Product{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description,
			Price:       row.Price,
		})
	}
	return products, nil
}

func sessionToRow(s contractx.Session) sessionRow {
	return sessionRow{
		ID:            s.ID,
		CustomerPhone: s.CustomerPhone,
		IsBlocked:     s.IsBlocked,
		ExpiresAt:     s.ExpiresAt,
		CreatedAt:     s.CreatedAt,
	}
}

func sessionFromRow(row sessionRow) contractx.Session {
	return contractx.Session{
		ID:            row.ID,
		CustomerPhone: row.CustomerPhone,
		IsBlocked:     row.IsBlocked,
		ExpiresAt:     row.ExpiresAt,
		CreatedAt:     row.CreatedAt,
	}
}

func messageToRow(m contractx.Message) messageRow {
	return messageRow{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Role:         string(m.Role),
		Content:      m.Content,
		ToolCalls:    m.ToolCallsJSON,
		ToolCallID:   m.ToolCallID,
		ToolName:     m.ToolName,
		SentToClient: m.SentToClient,
		CreatedAt:    m.CreatedAt,
	}
}

func messageFromRow(row messageRow) contractx.Message {
	return contractx.Message{
		ID:            row.ID,
		SessionID:     row.SessionID,
		Role:          contractx.Role(row.Role),
		Content:       row.Content,
		ToolCallsJSON: row.ToolCalls,
		ToolCallID:    row.ToolCallID,
		ToolName:      row.ToolName,
		SentToClient:  row.SentToClient,
		CreatedAt:     row.CreatedAt,
	}
}
