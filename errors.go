package slabcache

import "errors"

var (
	// ErrTooLarge means the item does not fit any configured slab class.
	ErrTooLarge = errors.New("slabcache: item larger than any slab class")

	// ErrNoMemory means no free chunk was available and eviction was
	// disabled or could not free one.
	ErrNoMemory = errors.New("slabcache: out of memory")

	// ErrKeyExists reports an optimistic-concurrency conflict: the caller's
	// CAS token no longer matches the stored item.
	ErrKeyExists = errors.New("slabcache: cas mismatch")

	// ErrNotStored reports an Add against a key that already exists.
	ErrNotStored = errors.New("slabcache: not stored")

	// ErrKeyNotFound reports an operation against a key that is absent.
	ErrKeyNotFound = errors.New("slabcache: key not found")

	// ErrWouldBlock means the operation is pending asynchronous completion.
	// The caller must wait for its token to be resumed and retry.
	ErrWouldBlock = errors.New("slabcache: operation would block")

	// ErrBadValue reports an arithmetic operation on a non-numeric value.
	ErrBadValue = errors.New("slabcache: non-numeric value")

	// ErrNotSupported reports an unsupported operation.
	ErrNotSupported = errors.New("slabcache: not supported")

	// ErrClosed reports an operation on a closed engine.
	ErrClosed = errors.New("slabcache: engine closed")
)
