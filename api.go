package slabcache

import (
	"context"

	"github.com/unkn0wn-root/slabcache/durable"
)

// StoreOp selects the storage semantics of Engine.Store.
type StoreOp int

const (
	// OpSet stores unconditionally.
	OpSet StoreOp = iota
	// OpAdd stores only if the key is absent.
	OpAdd
	// OpReplace stores only if the key is present.
	OpReplace
	// OpAppend concatenates after the existing value.
	OpAppend
	// OpPrepend concatenates before the existing value.
	OpPrepend
)

func (op StoreOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpAdd:
		return "add"
	case OpReplace:
		return "replace"
	case OpAppend:
		return "append"
	case OpPrepend:
		return "prepend"
	}
	return "unknown"
}

// Notifier receives the asynchronous resumption signal for a pending read.
// IOComplete is invoked exactly once per ErrWouldBlock returned by Get, with
// the caller token passed to Get and a nil error (the key materialized in
// cache, or was concurrently stored) or ErrKeyNotFound.
//
// Implementations must be safe for concurrent use; they are called from the
// read-through worker goroutine. Hosts that dispatch resumptions slowly
// should wrap their Notifier with notify/async.
type Notifier interface {
	IOComplete(token any, err error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(token any, err error)

func (f NotifierFunc) IOComplete(token any, err error) { f(token, err) }

type nopNotifier struct{}

func (nopNotifier) IOComplete(any, error) {}

// Options tune the engine. The zero value is a usable memory-only cache with
// the documented defaults (CAS on, eviction on, 64 MiB, 1 MiB item max).
type Options struct {
	// Store is the durable backend. nil disables the persistence subsystem
	// entirely: Get misses report ErrKeyNotFound instead of ErrWouldBlock
	// and nothing is written behind.
	Store durable.Store

	// Notifier receives read-through resumption signals. nil means signals
	// are dropped, which is only sane for warmup-only or memory-only use.
	Notifier Notifier

	Logger Logger // nil => NopLogger

	DisableCAS      bool    // default false (CAS tokens enabled)
	DisableEviction bool    // default false (evict on memory pressure)
	CacheSize       int64   // bytes; 0 => 64 MiB
	Preallocate     bool    // reserve one page per slab class up front
	Factor          float64 // slab class growth factor; 0 => 1.25
	ChunkSize       int     // smallest chunk size in bytes; 0 => 48
	ItemSizeMax     int     // largest storable item; 0 => 1 MiB
	Verbose         int     // >1 logs per-operation detail

	// Warmup scans the whole durable table at startup and preloads the
	// cache. Requires Store. Runs on its own goroutine; see WaitWarmup.
	Warmup bool

	// WriteQueueMax bounds the number of distinct keys queued behind the
	// write-behind worker. 0 means unbounded. When the bound is hit new
	// entries are dropped and counted (write_drops), never blocked on.
	WriteQueueMax int
}

// Engine is the caller-facing operation surface of the cache.
//
// Items handed out by Allocate and Get are reference counted: every *Item the
// caller receives must be handed back with Release exactly once.
type Engine interface {
	// Allocate reserves an item sized for a value of nbytes. The returned
	// item is unlinked until passed to Store. exptime of 0 never expires;
	// values up to 30 days are relative seconds, larger ones absolute unix
	// seconds.
	Allocate(key []byte, flags uint32, exptime uint32, nbytes int) (*Item, error)

	// Get returns the cached item, or ErrWouldBlock after scheduling a
	// read-through keyed by token. After the token is resumed, retry Get.
	Get(token any, key []byte) (*Item, error)

	// Store links it into the cache under op semantics. A non-zero
	// expectedCAS must match the currently stored token or the store fails
	// with ErrKeyExists. Returns the item's new CAS token.
	Store(it *Item, expectedCAS uint64, op StoreOp) (uint64, error)

	// Delete unlinks the key. A non-zero expectedCAS must match.
	Delete(key []byte, expectedCAS uint64) error

	// Arithmetic applies a delta to a decimal-text value. With create, a
	// missing key is initialized to initial. Returns the new value and the
	// item's CAS token.
	Arithmetic(key []byte, incr, create bool, delta, initial uint64, exptime uint32) (uint64, uint64, error)

	// Flush marks everything stored before now (when == 0) or before the
	// given time as logically expired.
	Flush(when int64) error

	// Release gives back a reference obtained from Allocate or Get.
	Release(it *Item)

	// ItemInfo exposes an opaque descriptor of a held item.
	ItemInfo(it *Item) ItemInfo

	// Stats returns a counter group: "" (engine), "slabs", "items" or
	// "sizes". Unknown groups fail with ErrKeyNotFound.
	Stats(group string) (map[string]string, error)

	// ResetStats zeroes the resettable counters.
	ResetStats()

	// WaitWarmup blocks until the startup warmup scan finished. It returns
	// immediately when warmup was not configured.
	WaitWarmup(ctx context.Context) error

	// Close stops intake, drains the write-behind queue, resumes pending
	// reads and closes the durable store.
	Close(ctx context.Context) error
}

// New builds an Engine from opts and starts the persistence workers when a
// durable store is configured.
func New(opts Options) (Engine, error) {
	return newEngine(opts)
}
