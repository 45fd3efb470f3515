// Package postgres is the PostgreSQL implementation of the message and user
// stores, for deployments that outgrow a single SQLite file.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

const (
	pgUniqueViolation = "23505"

	// insertLockKey serialises inserts so date_created follows id order.
	insertLockKey = 0x63686174
)

// Store implements interfaces.DatabaseManager with a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ interfaces.DatabaseManager = (*Store)(nil)

// NewStore connects to databaseURL.
func NewStore(ctx context.Context, databaseURL string, maxConns, minConns int32, logger zerolog.Logger) (*Store, error) {
	pool, err := NewPool(ctx, databaseURL, maxConns, minConns)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

// Migrate applies the bundled schema migrations.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return NewMigrator(s.pool).Up(ctx)
}

// Pool exposes the underlying pool for health reporting.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// InsertMessage persists a message. The advisory lock plus GREATEST keeps
// date_created non-decreasing in id order across concurrent writers.
func (s *Store) InsertMessage(ctx context.Context, from, to types.ID, body string) (*types.ChatMessage, error) {
	var (
		id      int64
		created time.Time
	)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(insertLockKey)); err != nil {
			return fmt.Errorf("acquire insert lock: %w", err)
		}
		return tx.QueryRow(ctx, `
			INSERT INTO chat_messages (user_from, user_to, message, date_created)
			VALUES ($1, $2, $3, GREATEST(clock_timestamp(),
				COALESCE((SELECT MAX(date_created) FROM chat_messages), '-infinity'::timestamptz)))
			RETURNING id, date_created
		`, int64(from), int64(to), body).Scan(&id, &created)
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("from", int64(from)).Int64("to", int64(to)).Msg("message insert failed")
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &types.ChatMessage{
		ID:        types.ID(id),
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: created.UTC(),
	}, nil
}

// MessagesBetween returns up to limit messages between a and b with id
// greater than sinceID, oldest first.
func (s *Store) MessagesBetween(ctx context.Context, a, b, sinceID types.ID, limit int) ([]*types.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_from, user_to, message, date_created
		FROM chat_messages
		WHERE id > $1
		  AND ((user_from = $2 AND user_to = $3) OR (user_from = $3 AND user_to = $2))
		ORDER BY date_created ASC, id ASC
		LIMIT $4
	`, int64(sinceID), int64(a), int64(b), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*types.ChatMessage, 0, limit)
	for rows.Next() {
		var id, from, to int64
		var msg types.ChatMessage
		if err := rows.Scan(&id, &from, &to, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID, msg.From, msg.To = types.ID(id), types.ID(from), types.ID(to)
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// CreateUser inserts a directory user.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, first_name, last_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, int64(user.ID), user.Username, user.FirstName, user.LastName, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", interfaces.ErrUserExists, user.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser looks a user up by id.
func (s *Store) GetUser(ctx context.Context, id types.ID) (*types.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, created_at
		FROM users WHERE id = $1
	`, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListUsers returns every directory user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, first_name, last_name, created_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*types.User, error) {
	var id int64
	var user types.User
	if err := row.Scan(&id, &user.Username, &user.FirstName, &user.LastName, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.ID = types.ID(id)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
