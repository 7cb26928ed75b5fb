// Package badger stores per-user credential documents in an embedded
// BadgerDB instance.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-incidents/internal/store"
)

const keyPrefix = "user_credentials/"

// Config holds configuration for the credential database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites flushes every write before returning.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Store implements store.CredentialStore.
type Store struct {
	db  *badgerdb.DB
	now func() time.Time
}

var _ store.CredentialStore = (*Store)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) the credential database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent credential store")
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create credential directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func credentialKey(userID string) []byte {
	return []byte(keyPrefix + userID)
}

// LoadCredential returns the stored document for userID.
func (s *Store) LoadCredential(ctx context.Context, userID string) (store.CredentialDocument, error) {
	if err := ctx.Err(); err != nil {
		return store.CredentialDocument{}, err
	}
	var doc store.CredentialDocument
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(credentialKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.CredentialDocument{}, store.ErrNotFound
	}
	if err != nil {
		return store.CredentialDocument{}, fmt.Errorf("load credential %s: %w", userID, err)
	}
	return doc, nil
}

// SaveCredential upserts a document, keeping the original CreatedAt.
func (s *Store) SaveCredential(ctx context.Context, doc store.CredentialDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		key := credentialKey(doc.UserID)
		if item, err := txn.Get(key); err == nil {
			var existing store.CredentialDocument
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err == nil && !existing.CreatedAt.IsZero() {
				doc.CreatedAt = existing.CreatedAt
			}
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = s.now().UTC()
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal credential %s: %w", doc.UserID, err)
		}
		return txn.Set(key, payload)
	})
}

// TouchCredential records a last-used timestamp.
func (s *Store) TouchCredential(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		key := credentialKey(userID)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var doc store.CredentialDocument
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &doc) }); err != nil {
			return err
		}
		doc.LastUsed = at.UTC()
		payload, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, payload)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

// DeleteCredential removes the document for userID, reporting whether one
// existed.
func (s *Store) DeleteCredential(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := true
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		key := credentialKey(userID)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		existed, err = false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete credential %s: %w", userID, err)
	}
	return existed, nil
}

// ListCredentialUsers returns the user ids with stored credentials, sorted.
func (s *Store) ListCredentialUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := make([]string, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			users = append(users, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list credential users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}
