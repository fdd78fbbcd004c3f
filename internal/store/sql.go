package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/projectchat/internal/chat"
)

// dialect captures the few places SQLite and PostgreSQL differ.
type dialect struct {
	name         string
	numbered     bool
	schema       []string
	singleWriter bool
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			content TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_project ON chat_messages(project_id, seq)`,
	},
	singleWriter: true,
}

var postgresDialect = dialect{
	name:     DriverPostgres,
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			content TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_project ON chat_messages(project_id, seq)`,
	},
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const (
	insertMessageSQL = `INSERT INTO chat_messages (id, content, sender_id, project_id, created_at) VALUES (?, ?, ?, ?, ?)`

	selectMessageSQL = `SELECT m.id, m.content, m.sender_id, m.project_id, m.created_at,
		COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(u.avatar, '')
		FROM chat_messages m LEFT JOIN users u ON u.id = m.sender_id`

	selectSenderSQL = `SELECT name, email, avatar FROM users WHERE id = ?`

	deleteMessageSQL = `DELETE FROM chat_messages WHERE id = ?`

	upsertUserSQL = `INSERT INTO users (id, name, email, avatar) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, avatar = excluded.avatar`
)

// SQLStore is a database/sql backed Store.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func openSQLite(ctx context.Context, cfg Config) (*SQLStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = DefaultConfig().DSN
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := newSQLStore(db, sqliteDialect)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return store, nil
}

func openPostgres(ctx context.Context, cfg Config) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	defaults := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newSQLStore(db, postgresDialect), nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	if d.singleWriter {
		// One writer at a time; a single connection also keeps :memory: shared.
		db.SetMaxOpenConns(1)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateMessage inserts msg with a fresh id and timestamp and returns it
// joined with the sender profile. The insert and the profile lookup share a
// transaction, so an error means the message was not stored.
func (s *SQLStore) CreateMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	out := &chat.Message{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Sender:    chat.Sender{ID: msg.SenderID},
		ProjectID: msg.ProjectID,
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(insertMessageSQL),
		out.ID, out.Content, out.SenderID, out.ProjectID, out.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	err = tx.QueryRowContext(ctx, s.dialect.rebind(selectSenderSQL), msg.SenderID).
		Scan(&out.Sender.Name, &out.Sender.Email, &out.Sender.Avatar)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load sender: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return out, nil
}

// GetMessage loads a single message.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectMessageSQL+` WHERE m.id = ?`), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the newest limit messages for projectID, oldest
// first. An empty projectID lists every message.
func (s *SQLStore) ListMessages(ctx context.Context, projectID string, limit int) ([]*chat.Message, error) {
	query := selectMessageSQL
	args := make([]any, 0, 2)
	if projectID != "" {
		query += ` WHERE m.project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY m.seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage removes a message by id.
func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(deleteMessageSQL), id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertUser creates or replaces a sender profile.
func (s *SQLStore) UpsertUser(ctx context.Context, user chat.Sender) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(upsertUserSQL),
		user.ID, user.Name, user.Email, user.Avatar,
	); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*chat.Message, error) {
	var msg chat.Message
	if err := row.Scan(
		&msg.ID, &msg.Content, &msg.SenderID, &msg.ProjectID, &msg.CreatedAt,
		&msg.Sender.Name, &msg.Sender.Email, &msg.Sender.Avatar,
	); err != nil {
		return nil, err
	}
	msg.Sender.ID = msg.SenderID
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}
