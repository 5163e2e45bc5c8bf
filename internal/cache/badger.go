package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCache implements Backend on an on-disk badger database, so values
// outlive the process.
type BadgerCache struct {
	db     *badger.DB
	prefix string
}

// NewBadgerCache opens (or creates) the database in dir.
func NewBadgerCache(dir, prefix string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(slogLogger{}).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %s: %w", dir, err)
	}
	return &BadgerCache{db: db, prefix: prefix}, nil
}

func (b *BadgerCache) key(k string) []byte {
	return []byte(b.prefix + k)
}

func (b *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(b.key(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (b *BadgerCache) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(key))
	})
}

func (b *BadgerCache) Close() error {
	return b.db.Close()
}

// slogLogger routes badger's own log lines through slog. Info and debug
// chatter is kept at debug level.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (slogLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (slogLogger) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (slogLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
