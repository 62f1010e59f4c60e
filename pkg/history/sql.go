package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var schemas = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_user ON conversation_messages (user_id, id)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_user ON conversation_messages (user_id, id)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL,
			content LONGTEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_conversation_messages_user (user_id, id)
		)`,
	},
}

type messageRow struct {
	Role      string         `db:"role"`
	Content   string         `db:"content"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// SQLStore keeps history in a conversation_messages table. Queries are
// written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects with driver ("sqlite3", "postgres" or "mysql") and
// creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s history requires a dsn", driver)
	}
	if driver == "mysql" {
		dsn = withParseTime(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the table and index if missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, ok := schemas[s.db.DriverName()]
	if !ok {
		return fmt.Errorf("unsupported sql driver: %s", s.db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate history schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, userID string, msgs ...Message) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.db.Rebind(`INSERT INTO conversation_messages (user_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`)
	for _, m := range stamp(msgs) {
		var meta sql.NullString
		if len(m.Metadata) > 0 {
			data, err := json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query, userID, m.Role, m.Content, meta, m.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, userID string, limit int) ([]Message, error) {
	if err := ValidateKey(userID); err != nil {
		return nil, err
	}

	var (
		rows []messageRow
		err  error
	)
	if limit > 0 {
		query := s.db.Rebind(`SELECT role, content, metadata, created_at FROM conversation_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &rows, query, userID, limit)
		reverse(rows)
	} else {
		query := s.db.Rebind(`SELECT role, content, metadata, created_at FROM conversation_messages WHERE user_id = ? ORDER BY id ASC`)
		err = s.db.SelectContext(ctx, &rows, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		m := Message{Role: r.Role, Content: r.Content, Timestamp: r.CreatedAt}
		if r.Metadata.Valid && r.Metadata.String != "" {
			if err := json.Unmarshal([]byte(r.Metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *SQLStore) Clear(ctx context.Context, userID string) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	query := s.db.Rebind(`DELETE FROM conversation_messages WHERE user_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func reverse(rows []messageRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// withParseTime makes the mysql driver scan DATETIME into time.Time
func withParseTime(dsn string) string {
	for _, c := range []string{"parseTime=true", "parseTime=True", "parseTime=1"} {
		if strings.Contains(dsn, c) {
			return dsn
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
