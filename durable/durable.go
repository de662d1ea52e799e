// Package durable defines the persistence gateway used by slabcache: a
// durable table holding one record per item key. Implementations live in the
// sqlite, badger and redis subpackages.
//
// Implementations MUST be safe for concurrent use and byte-for-byte
// transparent: Fetch must return exactly the Value previously passed to
// Upsert for the same key. Failures are returned, never swallowed; the
// engine's workers decide what to do with them.
package durable

import (
	"context"
	"errors"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrNotFound reports a Fetch for a key with no durable record.
	ErrNotFound = errors.New("durable: record not found")

	// ErrCorrupt reports a record that failed decoding or content-hash
	// verification.
	ErrCorrupt = errors.New("durable: corrupt record")
)

// Record is one row of the durable table. Exptime is absolute unix seconds
// (0 = never). ContentHash is the lower 32 bits of xxhash64 over Value;
// zero is accepted on read for records written by older producers.
type Record struct {
	Key         string
	Flags       uint32
	Exptime     uint32
	ContentHash uint32
	Value       []byte
}

// HashValue computes the content hash stored alongside a record's value.
func HashValue(v []byte) uint32 {
	return uint32(xxhash.Sum64(v))
}

// WithHash returns a copy of r with ContentHash recomputed from Value.
func (r Record) WithHash() Record {
	r.ContentHash = HashValue(r.Value)
	return r
}

// VerifyHash reports whether the record's content hash matches its value.
// A zero hash always verifies.
func (r Record) VerifyHash() bool {
	return r.ContentHash == 0 || r.ContentHash == HashValue(r.Value)
}

// Store is the durable table contract. Upsert is insert-or-replace by key.
// Scan makes a single, non-restartable pass over every record and stops on
// the first callback error.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Fetch(ctx context.Context, key string) (Record, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, fn func(Record) error) error
	Close(ctx context.Context) error
}
