package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidKey     = errors.New("invalid history key")
	ErrUnknownBackend = errors.New("unknown history backend")
)

const (
	BackendMemory   = "memory"
	BackendJSONL    = "jsonl"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
)

// Message is a single conversation turn
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Store persists conversation history per user. Load returns messages in
// chronological order; limit <= 0 returns everything.
type Store interface {
	Append(ctx context.Context, userID string, msgs ...Message) error
	Load(ctx context.Context, userID string, limit int) ([]Message, error)
	Clear(ctx context.Context, userID string) error
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Backend       string
	Path          string // jsonl directory, sqlite file or badger directory
	DSN           string // postgres and mysql
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration // redis key expiry
	MaxMessages   int           // redis list cap
}

// Open creates the configured store
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)

	backend := strings.ToLower(cfg.Backend)
	switch backend {
	case "", BackendMemory:
		backend = BackendMemory
		store = NewMemoryStore()
	case BackendJSONL:
		store, err = NewJSONLStore(cfg.Path)
	case BackendSQLite:
		store, err = OpenSQL(ctx, "sqlite3", cfg.Path)
	case BackendPostgres:
		store, err = OpenSQL(ctx, "postgres", cfg.DSN)
	case BackendMySQL:
		store, err = OpenSQL(ctx, "mysql", cfg.DSN)
	case BackendRedis:
		store, err = OpenRedis(ctx, RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			TTL:         cfg.TTL,
			MaxMessages: cfg.MaxMessages,
		})
	case BackendBadger:
		store, err = OpenBadger(BadgerConfig{Path: cfg.Path})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s history: %w", backend, err)
	}

	return Instrument(store, backend), nil
}

// ValidateKey rejects user IDs that are unsafe as file names or keys
func ValidateKey(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(userID, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidKey)
	}
	if strings.ContainsAny(userID, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidKey)
	}
	if strings.Contains(userID, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidKey)
	}
	return nil
}

func validateMessages(msgs []Message) error {
	for i, m := range msgs {
		if m.Role == "" {
			return fmt.Errorf("message %d: role cannot be empty", i)
		}
		if m.Content == "" {
			return fmt.Errorf("message %d: content cannot be empty", i)
		}
	}
	return nil
}

// stamp fills missing timestamps
func stamp(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	now := time.Now().UTC()
	for i, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		out[i] = m
	}
	return out
}

// tail returns the last limit messages
func tail(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
