package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// jsonlEntry is one line of a history file
type jsonlEntry struct {
	UserID  string  `json:"userId"`
	Message Message `json:"message"`
}

// JSONLStore keeps one append-only JSONL file per user
type JSONLStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewJSONLStore creates the store, defaulting dir to ~/.aide/history
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".aide", "history")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("JSONL history store initialized")
	return &JSONLStore{dir: dir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *JSONLStore) path(userID string) string {
	return filepath.Join(s.dir, userID+".jsonl")
}

// writeLock gets or creates the write lock for a user
func (s *JSONLStore) writeLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[userID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[userID] = lock
	return lock
}

func (s *JSONLStore) Append(_ context.Context, userID string, msgs ...Message) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	lock := s.writeLock(userID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(userID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var buf strings.Builder
	for _, m := range stamp(msgs) {
		data, err := json.Marshal(jsonlEntry{UserID: userID, Message: m})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if _, err := file.WriteString(buf.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Load reads the user's file, skipping corrupted lines
func (s *JSONLStore) Load(_ context.Context, userID string, limit int) ([]Message, error) {
	if err := ValidateKey(userID); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(userID))
	if os.IsNotExist(err) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry jsonlEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn().Str("user_id", userID).Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" || entry.Message.Content == "" {
			log.Warn().Str("user_id", userID).Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		msgs = append(msgs, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	return tail(msgs, limit), nil
}

func (s *JSONLStore) Clear(_ context.Context, userID string) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}

	lock := s.writeLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history file: %w", err)
	}
	return nil
}

// Users lists user IDs that have history files
func (s *JSONLStore) Users() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var users []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		users = append(users, strings.TrimSuffix(name, ".jsonl"))
	}
	return users, nil
}

func (s *JSONLStore) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return nil
}
