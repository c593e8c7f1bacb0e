// Package store is the optional on-disk tier: a badger key-value store with
// msgpack-encoded records, used for the persistent TTS cache and the event
// outbox.
package store

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: not found")

// Options configures the store.
type Options struct {
	// Dir holds the badger data files. Required unless InMemory is set.
	Dir string

	// InMemory runs badger without disk persistence.
	InMemory bool

	Logger zerolog.Logger
}

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{opts.Logger.With().Str("component", "badger").Logger()})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the raw value for key.
func (s *Store) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

// Set stores value under key. A positive ttl expires the entry.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// GetRecord decodes the msgpack value under key into v.
func (s *Store) GetRecord(key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := Decode(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Decode decodes a msgpack value produced by SetRecord, as passed to Scan.
func Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// SetRecord stores v msgpack-encoded under key.
func (s *Store) SetRecord(key string, v any, ttl time.Duration) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data, ttl)
}

// Scan calls fn for every key with the given prefix in key order. Returning
// an error from fn stops the scan.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	return s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping reports whether the database is open.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return errors.New("store: closed")
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's warnings and errors into zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(string, ...interface{})        {}
func (l badgerLogger) Debugf(string, ...interface{})       {}
