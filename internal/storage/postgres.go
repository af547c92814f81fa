// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jeranaias/lmchat/internal/model"
)

// PostgresSchema creates the conversation tables.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS lmchat_conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lmchat_messages (
    id BIGSERIAL PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES lmchat_conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lmchat_messages_conversation
    ON lmchat_messages(conversation_id, id);
`

const pgListQuery = `
SELECT c.id, c.title, c.created_at,
       (SELECT COUNT(*) FROM lmchat_messages m WHERE m.conversation_id = c.id)
FROM lmchat_conversations c`

// =============================================================================
// POSTGRES STORE
// =============================================================================

// PostgresStore persists conversations in PostgreSQL through a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and runs Migrate.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("storage: postgres backend needs a dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The caller runs Migrate.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.Query(ctx, pgListQuery+` ORDER BY c.created_at ASC, c.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list conversations: %w", err)
	}
	defer rows.Close()

	out := []model.Conversation{}
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("storage: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list conversations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	c := model.Conversation{ID: uuid.New().String()}

	var err error
	if title == "" {
		err = s.db.QueryRow(ctx,
			`INSERT INTO lmchat_conversations (id, title)
			 VALUES ($1, 'Chat ' || ((SELECT COUNT(*) FROM lmchat_conversations) + 1))
			 RETURNING title, created_at`,
			c.ID,
		).Scan(&c.Title, &c.CreatedAt)
	} else {
		err = s.db.QueryRow(ctx,
			`INSERT INTO lmchat_conversations (id, title) VALUES ($1, $2) RETURNING title, created_at`,
			c.ID, title,
		).Scan(&c.Title, &c.CreatedAt)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("storage: create conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	err := s.db.QueryRow(ctx, pgListQuery+` WHERE c.id = $1`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("storage: get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM lmchat_conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	if _, err := s.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT role, content, created_at FROM lmchat_messages
		 WHERE conversation_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var (
			m    model.Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Role = model.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg model.Message) (int, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var count int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM lmchat_conversations WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO lmchat_messages (conversation_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4)`,
			id, string(msg.Role), msg.Content, msg.Timestamp,
		); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM lmchat_messages WHERE conversation_id = $1`, id).Scan(&count)
	})
	if errors.Is(err, ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("storage: append message: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetTitle(ctx context.Context, id, title string) error {
	tag, err := s.db.Exec(ctx, `UPDATE lmchat_conversations SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("storage: set title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
