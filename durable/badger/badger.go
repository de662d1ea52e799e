// Package badger persists records in a BadgerDB key space, one
// codec-encoded blob per key.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/unkn0wn-root/slabcache/durable"
)

type Store struct {
	db    *badger.DB
	codec durable.Codec
}

var _ durable.Store = (*Store)(nil)

type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM; handy for tests.
	InMemory bool

	// Codec encodes records to value blobs. nil => durable.Binary.
	Codec durable.Codec
}

func New(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger store: dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = durable.Binary{}
	}
	return &Store{db: db, codec: codec}, nil
}

func (s *Store) Upsert(_ context.Context, rec durable.Record) error {
	blob, err := s.codec.Encode(rec.WithHash())
	if err != nil {
		return fmt.Errorf("badger store: encode %q: %w", rec.Key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.Key), blob)
	})
	if err != nil {
		return fmt.Errorf("badger store: upsert %q: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Fetch(_ context.Context, key string) (durable.Record, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return durable.Record{}, durable.ErrNotFound
	}
	if err != nil {
		return durable.Record{}, fmt.Errorf("badger store: fetch %q: %w", key, err)
	}
	return s.decode(key, blob)
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(durable.Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			blob, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger store: scan %q: %w", key, err)
			}
			rec, err := s.decode(key, blob)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) decode(key string, blob []byte) (durable.Record, error) {
	rec, err := s.codec.Decode(key, blob)
	if err != nil {
		return durable.Record{}, fmt.Errorf("badger store: decode %q: %w", key, err)
	}
	if !rec.VerifyHash() {
		return durable.Record{}, fmt.Errorf("badger store: decode %q: %w", key, durable.ErrCorrupt)
	}
	return rec, nil
}
