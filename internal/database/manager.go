package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "carechat/pkg/database"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Manager implements interfaces.DatabaseManager on top of SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	loopDone     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	// Owned by the write loop
	now         func() time.Time
	lastCreated int64
	clockLoaded bool
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "sqlite").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		now:          time.Now,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the bundled schema migrations and validates the result.
func (m *Manager) Migrate() (int, error) {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations())
	applied, err := migrations.ApplyMigrations()
	if err != nil {
		return applied, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		return applied, fmt.Errorf("schema validation failed: %w", err)
	}
	return applied, nil
}

// writeLoop processes all write operations in a single goroutine. Failed
// writes are reported to the caller once; nothing is retried.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.loopDone)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Error().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.drain()
			m.logger.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

// drain answers operations that were queued before shutdown was observed.
func (m *Manager) drain() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- interfaces.ErrStoreClosed
		default:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("write operation timeout after %s", m.config.WriteTimeout)
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.loopDone:
		// The loop may have answered just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return interfaces.ErrStoreClosed
		}
	}
}

// nextTimestamp returns a creation time that never precedes an earlier
// insert, so ordering by date_created agrees with insertion order even when
// the wall clock steps backwards. Only called from the write loop.
func (m *Manager) nextTimestamp(ctx context.Context, db *sql.DB) (time.Time, error) {
	if !m.clockLoaded {
		var last sql.NullInt64
		if err := db.QueryRowContext(ctx, "SELECT MAX(date_created) FROM chat_messages").Scan(&last); err != nil {
			return time.Time{}, fmt.Errorf("failed to load last timestamp: %w", err)
		}
		m.lastCreated = last.Int64
		m.clockLoaded = true
	}

	now := m.now().UTC().UnixNano()
	if now < m.lastCreated {
		now = m.lastCreated
	}
	return time.Unix(0, now).UTC(), nil
}

// InsertMessage persists a chat message and returns it with its assigned
// id and creation time.
func (m *Manager) InsertMessage(ctx context.Context, from, to types.ID, body string) (*types.ChatMessage, error) {
	var stored *types.ChatMessage

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		created, err := m.nextTimestamp(ctx, db)
		if err != nil {
			return err
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (user_from, user_to, message, date_created)
			VALUES (?, ?, ?, ?)
		`, int64(from), int64(to), body, created.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}

		m.lastCreated = created.UnixNano()
		stored = &types.ChatMessage{
			ID:        types.ID(id),
			From:      from,
			To:        to,
			Body:      body,
			CreatedAt: created,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// MessagesBetween returns up to limit messages exchanged between a and b
// with id greater than sinceID, oldest first.
func (m *Manager) MessagesBetween(ctx context.Context, a, b, sinceID types.ID, limit int) ([]*types.ChatMessage, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_from, user_to, message, date_created
		FROM chat_messages
		WHERE id > ?
		  AND ((user_from = ? AND user_to = ?) OR (user_from = ? AND user_to = ?))
		ORDER BY date_created ASC, id ASC
		LIMIT ?
	`, int64(sinceID), int64(a), int64(b), int64(b), int64(a), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.ChatMessage, 0, limit)
	for rows.Next() {
		var id, from, to, created int64
		var body string
		if err := rows.Scan(&id, &from, &to, &body, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &types.ChatMessage{
			ID:        types.ID(id),
			From:      types.ID(from),
			To:        types.ID(to),
			Body:      body,
			CreatedAt: time.Unix(0, created).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of stored messages.
func (m *Manager) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// CreateUser inserts a directory user. CreatedAt is filled in when zero.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, first_name, last_name, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, int64(user.ID), user.Username, user.FirstName, user.LastName, user.CreatedAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return fmt.Errorf("%w: %s", interfaces.ErrUserExists, user.Username)
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser looks a user up by id.
func (m *Manager) GetUser(ctx context.Context, id types.ID) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, last_name, created_at
		FROM users
		WHERE id = ?
	`, int64(id))

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// ListUsers returns every directory user ordered by id.
func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, username, first_name, last_name, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var id int64
	var user types.User
	var createdAt sql.NullTime
	if err := row.Scan(&id, &user.Username, &user.FirstName, &user.LastName, &createdAt); err != nil {
		return nil, err
	}
	user.ID = types.ID(id)
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time.UTC()
	}
	return &user, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1 FROM chat_messages LIMIT 1").Scan(&one); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer and the connection pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
