// Package badger provides the embedded BadgerDB durable store for rerequest
// records, for deployments without a Redis server.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ibs-source/delivery-engine/internal/config"
	"github.com/ibs-source/delivery-engine/internal/log"
)

// Store is a key-value store backed by a BadgerDB directory.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database in cfg.Dir.
func Open(cfg *config.BadgerConfig, logger *log.Logger) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = badgerLogger{logger.Component("badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", cfg.Dir, err)
	}
	return &Store{db: db}, nil
}

// Get returns the value stored under key, or nil when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through the service logger.
type badgerLogger struct {
	log *log.Logger
}

func (l badgerLogger) Errorf(format string, v ...interface{})   { l.log.Error(format, v...) }
func (l badgerLogger) Warningf(format string, v ...interface{}) { l.log.Warn(format, v...) }
func (l badgerLogger) Infof(format string, v ...interface{})    { l.log.Debug(format, v...) }
func (l badgerLogger) Debugf(format string, v ...interface{})   { l.log.Trace(format, v...) }
