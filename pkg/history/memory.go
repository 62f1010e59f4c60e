package history

import (
	"context"
	"sync"
)

// MemoryStore keeps history in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string][]Message)}
}

func (s *MemoryStore) Append(_ context.Context, userID string, msgs ...Message) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = append(s.users[userID], stamp(msgs)...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, userID string, limit int) ([]Message, error) {
	if err := ValidateKey(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := tail(s.users[userID], limit)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
