// Package badgerkv provides a BadgerDB-backed store.Backend.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces map entries inside a shared database.
const keyPrefix = "oproxy/map/"

// Config configures the BadgerDB backend.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps all data in memory. For tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// NumVersionsToKeep bounds the value versions kept per key. Superseded
	// versions are exposed through History.
	NumVersionsToKeep int
}

// DefaultConfig returns a durable configuration.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 8,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		NumVersionsToKeep: 8,
	}
}

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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Backend stores map entries in BadgerDB.
type Backend struct {
	db *badger.DB
}

// Open opens (creating if needed) a BadgerDB backend.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	versions := cfg.NumVersionsToKeep
	if versions < 1 {
		versions = 1
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(versions)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Backend{db: db}, nil
}

// OpenInMemory opens an in-memory backend.
func OpenInMemory() (*Backend, error) {
	return Open(InMemoryConfig())
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// Load implements store.Backend.
func (b *Backend) Load(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return out, true, nil
}

// Save implements store.Backend.
func (b *Backend) Save(_ context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// History implements store.Historian. It returns the superseded versions
// BadgerDB still retains, oldest first, stopping at the latest delete.
func (b *Backend) History(_ context.Context, key string) ([][]byte, error) {
	var newestFirst [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.AllVersions = true
		opts.Prefix = dbKey(key)
		it := txn.NewIterator(opts)
		defer it.Close()

		target := dbKey(key)
		first := true
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) != string(target) {
				continue
			}
			if item.IsDeletedOrExpired() {
				if first {
					first = false
					continue
				}
				break
			}
			if first {
				first = false
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			newestFirst = append(newestFirst, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", key, err)
	}

	out := make([][]byte, len(newestFirst))
	for i, v := range newestFirst {
		out[len(newestFirst)-1-i] = v
	}
	return out, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
