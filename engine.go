package slabcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/slabcache/durable"
)

const (
	defaultCacheSize   = 64 << 20
	defaultFactor      = 1.25
	defaultChunkSize   = 48
	defaultItemSizeMax = 1 << 20

	// MaxKeyLength is the longest accepted item key, matching the durable
	// table's key column.
	MaxKeyLength = 250
)

// errArithRace signals a lost create race inside Arithmetic; retried once.
var errArithRace = errors.New("slabcache: arithmetic create race")

type engine struct {
	// mu is the cache lock: it guards the item store, the slab accounting
	// and the closed flag. Nothing blocks or does I/O while holding it.
	mu     sync.Mutex
	store  *itemStore
	closed bool

	stats   *engineStats
	log     Logger
	durable durable.Store
	writer  *writeBehind
	reader  *readThrough

	warmupDone chan struct{}
}

func newEngine(opts Options) (*engine, error) {
	log := coalesce[Logger](opts.Logger, NopLogger{})
	notifier := coalesce[Notifier](opts.Notifier, nopNotifier{})

	cacheSize := coalesce(opts.CacheSize, int64(defaultCacheSize))
	factor := coalesce(opts.Factor, defaultFactor)
	chunkSize := coalesce(opts.ChunkSize, defaultChunkSize)
	itemMax := coalesce(opts.ItemSizeMax, defaultItemSizeMax)

	if factor <= 1.0 {
		return nil, fmt.Errorf("slabcache: factor must be > 1.0, got %v", factor)
	}
	if chunkSize > itemMax {
		return nil, fmt.Errorf("slabcache: chunk_size %d exceeds item_size_max %d", chunkSize, itemMax)
	}
	if int64(itemMax) > cacheSize {
		return nil, fmt.Errorf("slabcache: item_size_max %d exceeds cache_size %d", itemMax, cacheSize)
	}
	if opts.Warmup && opts.Store == nil {
		return nil, fmt.Errorf("slabcache: warmup requires a durable store")
	}

	stats := &engineStats{}
	slabs := newSlabs(cacheSize, chunkSize, factor, itemMax, opts.Preallocate)
	e := &engine{
		store:      newItemStore(slabs, stats, log, !opts.DisableCAS, !opts.DisableEviction, opts.Verbose),
		stats:      stats,
		log:        log,
		warmupDone: make(chan struct{}),
	}

	if opts.Store == nil {
		close(e.warmupDone)
		return e, nil
	}

	e.durable = opts.Store
	e.writer = newWriteBehind(e, opts.Store, opts.WriteQueueMax)
	e.reader = newReadThrough(e, opts.Store, notifier)
	e.writer.start()
	e.reader.start()

	if opts.Warmup {
		go e.runWarmup()
	} else {
		close(e.warmupDone)
	}
	return e, nil
}

func (e *engine) Allocate(key []byte, flags uint32, exptime uint32, nbytes int) (*Item, error) {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return nil, fmt.Errorf("slabcache: key length %d: %w", len(key), ErrTooLarge)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.store.allocate(key, flags, normalizeExptime(exptime, nowUnix()), nbytes)
}

func (e *engine) Get(token any, key []byte) (*Item, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	it := e.store.get(key)
	reader := e.reader
	e.mu.Unlock()

	if it != nil {
		return it, nil
	}
	if reader == nil {
		return nil, ErrKeyNotFound
	}
	reader.enqueue(token, string(key))
	return nil, ErrWouldBlock
}

func (e *engine) Store(it *Item, expectedCAS uint64, op StoreOp) (uint64, error) {
	if op < OpSet || op > OpPrepend {
		return 0, ErrNotSupported
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	linked, cas, err := e.store.storeItem(it, expectedCAS, op)
	if err == nil && e.writer != nil {
		linked.refcount++ // queue reference, released after persist
	}
	e.mu.Unlock()

	if err == nil && e.writer != nil {
		e.writer.enqueue(linked)
	}
	return cas, err
}

func (e *engine) Delete(key []byte, expectedCAS uint64) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	it := e.store.get(key)
	if it == nil {
		e.mu.Unlock()
		return ErrKeyNotFound
	}
	if expectedCAS != 0 && expectedCAS != it.cas {
		e.store.release(it)
		e.mu.Unlock()
		return ErrKeyExists
	}
	e.store.unlink(it)
	e.store.release(it)
	e.mu.Unlock()

	if e.writer != nil {
		e.writer.enqueueDelete(string(key))
	}
	return nil
}

func (e *engine) Arithmetic(key []byte, incr, create bool, delta, initial uint64, exptime uint32) (uint64, uint64, error) {
	// bounded retry instead of recursion: one extra attempt covers losing
	// the create race to a concurrent store
	for attempt := 0; ; attempt++ {
		value, cas, err := e.arithmeticOnce(key, incr, create, delta, initial, exptime)
		if errors.Is(err, errArithRace) && attempt == 0 {
			continue
		}
		if errors.Is(err, errArithRace) {
			err = ErrNotStored
		}
		return value, cas, err
	}
}

func (e *engine) arithmeticOnce(key []byte, incr, create bool, delta, initial uint64, exptime uint32) (uint64, uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, 0, ErrClosed
	}

	it := e.store.get(key)
	if it == nil {
		if !create {
			e.mu.Unlock()
			return 0, 0, ErrKeyNotFound
		}
		text := strconv.AppendUint(nil, initial, 10)
		newIt, err := e.store.allocate(key, 0, normalizeExptime(exptime, nowUnix()), len(text))
		if err != nil {
			e.mu.Unlock()
			return 0, 0, err
		}
		copy(newIt.data, text)
		linked, cas, err := e.store.storeItem(newIt, 0, OpAdd)
		if err == nil && e.writer != nil {
			linked.refcount++
		}
		e.store.release(newIt)
		e.mu.Unlock()

		if err != nil {
			if errors.Is(err, ErrNotStored) {
				return 0, 0, errArithRace
			}
			return 0, 0, err
		}
		if e.writer != nil {
			e.writer.enqueue(linked)
		}
		return initial, cas, nil
	}

	value, perr := strconv.ParseUint(string(bytes.TrimRight(it.data, "\r\n ")), 10, 64)
	if perr != nil {
		e.store.release(it)
		e.mu.Unlock()
		return 0, 0, ErrBadValue
	}
	if incr {
		value += delta
	} else if delta > value {
		value = 0 // decrement saturates
	} else {
		value -= delta
	}

	out := strconv.AppendUint(nil, value, 10)
	newIt, err := e.store.allocate(key, it.flags, it.exptime, len(out))
	if err != nil {
		e.store.release(it)
		e.mu.Unlock()
		return 0, 0, err
	}
	copy(newIt.data, out)
	linked, cas, err := e.store.storeItem(newIt, 0, OpSet)
	if err == nil && e.writer != nil {
		linked.refcount++
	}
	e.store.release(newIt)
	e.store.release(it)
	e.mu.Unlock()

	if err != nil {
		return 0, 0, err
	}
	if e.writer != nil {
		e.writer.enqueue(linked)
	}
	return value, cas, nil
}

func (e *engine) Flush(when int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.store.flushExpired(when)
	return nil
}

func (e *engine) Release(it *Item) {
	if it == nil {
		return
	}
	e.mu.Lock()
	e.store.release(it)
	e.mu.Unlock()
}

func (e *engine) ItemInfo(it *Item) ItemInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ItemInfo{
		Key:       it.key,
		Value:     it.data,
		Flags:     it.flags,
		Exptime:   it.exptime,
		CAS:       it.cas,
		Size:      len(it.data),
		SlabClass: it.clsid,
	}
}

func (e *engine) Stats(group string) (map[string]string, error) {
	switch group {
	case "":
		return e.stats.snapshot(), nil
	case "slabs":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.store.slabs.statsMap(), nil
	case "items":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.store.itemStatsMap(), nil
	case "sizes":
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.store.sizeStatsMap(), nil
	}
	return nil, ErrKeyNotFound
}

func (e *engine) ResetStats() {
	e.mu.Lock()
	e.store.resetStats()
	e.mu.Unlock()
	e.stats.reset()
}

func (e *engine) WaitWarmup(ctx context.Context) error {
	select {
	case <-e.warmupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.durable == nil {
		return nil
	}
	<-e.warmupDone // the scan holds the store; let it finish
	e.writer.close()
	e.reader.close()
	return e.durable.Close(ctx)
}

// releaseRef hands a worker-held reference back under the cache lock.
func (e *engine) releaseRef(it *Item) {
	e.mu.Lock()
	e.store.release(it)
	e.mu.Unlock()
}

// materialize inserts a durable record into the cache with add semantics: a
// concurrently stored value wins and the record is dropped on the floor.
// Reports whether the key is now live in cache.
func (e *engine) materialize(rec durable.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	it, err := e.store.allocate([]byte(rec.Key), rec.Flags, rec.Exptime, len(rec.Value))
	if err != nil {
		e.log.Warn("read-through allocate failed", Fields{"key": rec.Key, "err": err})
		return false
	}
	copy(it.data, rec.Value)
	_, _, err = e.store.storeItem(it, 0, OpAdd) // never write-behind what came from the store
	e.store.release(it)
	if err == nil || errors.Is(err, ErrNotStored) {
		return true
	}
	return false
}
