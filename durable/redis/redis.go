// Package redis persists records in Redis under a namespaced key prefix,
// one codec-encoded blob per key. An item expiry maps to a Redis TTL so the
// server reclaims dead records on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/slabcache/durable"
)

var ErrNilClient = errors.New("redis store: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	codec       durable.Codec
	scanCount   int64
	closeClient bool
}

var _ durable.Store = (*Store)(nil)

type Config struct {
	Client goredis.UniversalClient

	// Namespace isolates this table from other users of the server,
	// e.g. "app:prod". Keys are stored as "kv:<ns>:<key>".
	Namespace string

	// Codec encodes records to value blobs. nil => durable.Binary.
	Codec durable.Codec

	// ScanCount is the COUNT hint for Scan. 0 => 256.
	ScanCount int64

	// CloseClient: set true only if this store exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	codec := cfg.Codec
	if codec == nil {
		codec = durable.Binary{}
	}
	return &Store{
		rdb:         cfg.Client,
		prefix:      "kv:" + cfg.Namespace + ":",
		codec:       codec,
		scanCount:   coalesceCount(cfg.ScanCount, 256),
		closeClient: cfg.CloseClient,
	}, nil
}

func coalesceCount(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Upsert(ctx context.Context, rec durable.Record) error {
	var ttl time.Duration
	if rec.Exptime != 0 {
		ttl = time.Until(time.Unix(int64(rec.Exptime), 0))
		if ttl <= 0 {
			// already dead; a delete keeps the table consistent
			return s.Delete(ctx, rec.Key)
		}
	}
	blob, err := s.codec.Encode(rec.WithHash())
	if err != nil {
		return fmt.Errorf("redis store: encode %q: %w", rec.Key, err)
	}
	if err := s.rdb.Set(ctx, s.key(rec.Key), blob, ttl).Err(); err != nil {
		return fmt.Errorf("redis store: upsert %q: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, key string) (durable.Record, error) {
	blob, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == goredis.Nil {
		return durable.Record{}, durable.ErrNotFound
	}
	if err != nil {
		return durable.Record{}, fmt.Errorf("redis store: fetch %q: %w", key, err)
	}
	return s.decode(key, blob)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(durable.Record) error) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		key := strings.TrimPrefix(full, s.prefix)
		blob, err := s.rdb.Get(ctx, full).Bytes()
		if err == goredis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return fmt.Errorf("redis store: scan %q: %w", key, err)
		}
		rec, err := s.decode(key, blob)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close releases the underlying client only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Store) decode(key string, blob []byte) (durable.Record, error) {
	rec, err := s.codec.Decode(key, blob)
	if err != nil {
		return durable.Record{}, fmt.Errorf("redis store: decode %q: %w", key, err)
	}
	if !rec.VerifyHash() {
		return durable.Record{}, fmt.Errorf("redis store: decode %q: %w", key, durable.ErrCorrupt)
	}
	return rec, nil
}
