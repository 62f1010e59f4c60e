package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

var badgerSeqKey = []byte("!seq/history")

// BadgerConfig configures a BadgerStore
type BadgerConfig struct {
	Path     string
	InMemory bool
}

// BadgerStore keeps messages under history/<user>/<seq> keys
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens the database at cfg.Path, or in memory
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger history requires a path")
		}
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(badgerSeqKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sequence: %w", err)
	}

	log.Debug().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Badger history store opened")
	return &BadgerStore{db: db, seq: seq}, nil
}

func badgerPrefix(userID string) []byte {
	return []byte("history/" + userID + "/")
}

func badgerKey(userID string, n uint64) []byte {
	key := badgerPrefix(userID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return append(key, buf[:]...)
}

func (s *BadgerStore) Append(_ context.Context, userID string, msgs ...Message) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range stamp(msgs) {
			n, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := txn.Set(badgerKey(userID, n), data); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Load(_ context.Context, userID string, limit int) ([]Message, error) {
	if err := ValidateKey(userID); err != nil {
		return nil, err
	}

	prefix := badgerPrefix(userID)
	var msgs []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if !bytes.HasPrefix(item.Key(), prefix) {
				break
			}
			err := item.Value(func(val []byte) error {
				var m Message
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				msgs = append(msgs, m)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return tail(msgs, limit), nil
}

func (s *BadgerStore) Clear(_ context.Context, userID string) error {
	if err := ValidateKey(userID); err != nil {
		return err
	}
	if err := s.db.DropPrefix(badgerPrefix(userID)); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		log.Warn().Err(err).Msg("Failed to release badger sequence")
	}
	return s.db.Close()
}
