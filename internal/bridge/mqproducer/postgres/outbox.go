// Package postgres provides a PostgreSQL-backed implementation of the
// bridge.MessageProducer durable-message collaborator. It persists
// transcript envelopes to an append-only outbox table, giving at-least-once
// delivery semantics without requiring an external broker — adequate under
// the CORE's explicit Non-goal of exactly-once bus delivery.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/livebridge/internal/bridge"
)

const ddlOutbox = `
CREATE TABLE IF NOT EXISTS message_outbox (
    id            BIGSERIAL    PRIMARY KEY,
    message_id    TEXT         NOT NULL,
    keys          TEXT         NOT NULL DEFAULT '',
    user_id       BIGINT       NOT NULL,
    role          TEXT         NOT NULL,
    message_type  TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    created_time  BIGINT       NOT NULL,
    assistant_id  TEXT         NOT NULL,
    cm_type       TEXT         NOT NULL,
    body          JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_outbox_message_id
    ON message_outbox (message_id);
`

// Producer implements bridge.MessageProducer backed by a pgxpool.Pool.
type Producer struct {
	pool *pgxpool.Pool
}

var _ bridge.MessageProducer = (*Producer)(nil)

// NewProducer connects to dsn, ensures the outbox table exists, and
// returns a ready Producer.
func NewProducer(ctx context.Context, dsn string) (*Producer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("mqproducer/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mqproducer/postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlOutbox); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mqproducer/postgres: migrate: %w", err)
	}
	return &Producer{pool: pool}, nil
}

// SendSync inserts envelope into the outbox table within a single
// round-trip, satisfying the "synchronous publish" contract.
func (p *Producer) SendSync(ctx context.Context, envelope bridge.MessageEnvelope, keys []string) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("mqproducer/postgres: marshal envelope: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO message_outbox
			(message_id, keys, user_id, role, message_type, content, created_time, assistant_id, cm_type, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		envelope.MessageID,
		strings.Join(keys, ","),
		envelope.UserID,
		envelope.Role,
		envelope.MessageType,
		envelope.Content,
		envelope.CreatedTime,
		envelope.AssistantID,
		envelope.CMType,
		body,
	)
	if err != nil {
		return fmt.Errorf("mqproducer/postgres: insert: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool. Idempotent.
func (p *Producer) Close() error {
	p.pool.Close()
	return nil
}
