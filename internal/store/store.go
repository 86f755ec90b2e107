// Package store keeps an append-only history of shopping workflow steps in
// PostgreSQL. It is audit data; sessions themselves live in memory.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is the subset of pgxpool.Pool the store uses, so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateEvents = `
        CREATE TABLE IF NOT EXISTS shopping_events (
            id         UUID PRIMARY KEY,
            session_id TEXT NOT NULL,
            kind       TEXT NOT NULL,
            payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS shopping_events_session_idx ON shopping_events (session_id, created_at);
    `
	sqlInsertEvent = `
        INSERT INTO shopping_events (id, session_id, kind, payload, created_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlEventsBySession = `
        SELECT id, kind, payload, created_at
        FROM shopping_events
        WHERE session_id = $1
        ORDER BY created_at ASC;
    `
)

// redactedKeys never reach the database, whatever the caller put in a payload.
var redactedKeys = []string{"shipping", "shipping_values"}

// Store is the PostgreSQL event log.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.EventRecorder = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// Connect opens a pool for url, prepares the schema and returns the store
// together with a function that closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the events table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateEvents); err != nil {
		return fmt.Errorf("failed to create shopping_events: %w", err)
	}
	return nil
}

// Record appends one event. A missing id or timestamp is filled in.
func (s *Store) Record(ctx context.Context, event schemas.ShoppingEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	payload := make(map[string]any, len(event.Payload))
	for k, v := range event.Payload {
		payload[k] = v
	}
	for _, k := range redactedKeys {
		delete(payload, k)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	tag, err := s.pool.Exec(ctx, sqlInsertEvent,
		event.ID, event.SessionID, string(event.Kind), body, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", event.Kind, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("insert %s event affected %d rows", event.Kind, tag.RowsAffected())
	}
	s.log.Debug("Event recorded.", zap.String("session_id", event.SessionID), zap.String("kind", string(event.Kind)))
	return nil
}

// EventsBySession returns a session's events, oldest first.
func (s *Store) EventsBySession(ctx context.Context, sessionID string) ([]schemas.ShoppingEvent, error) {
	rows, err := s.pool.Query(ctx, sqlEventsBySession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []schemas.ShoppingEvent
	for rows.Next() {
		var (
			e    schemas.ShoppingEvent
			kind string
			body []byte
		)
		if err := rows.Scan(&e.ID, &kind, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of event %s: %w", e.ID, err)
			}
		}
		e.Kind = schemas.EventKind(kind)
		e.SessionID = sessionID
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// Nop discards events. It stands in when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, schemas.ShoppingEvent) error { return nil }
