package slabcache

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/slabcache/durable"
)

// pendingWrite is one queued write-behind operation. A nil item is a
// tombstone: the key is deleted from the durable store.
type pendingWrite struct {
	it *Item
}

// writeBehind persists dirty items in the background. The queue holds at most
// one entry per key: a newer write supersedes the queued one in place, so a
// hot key never floods the store and ordering per key is trivially preserved.
type writeBehind struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]pendingWrite
	order   []string // distinct keys, oldest first
	closed  bool
	max     int // 0 = unbounded

	eng   *engine
	store durable.Store
	wg    sync.WaitGroup
}

func newWriteBehind(eng *engine, store durable.Store, max int) *writeBehind {
	w := &writeBehind{
		entries: make(map[string]pendingWrite),
		max:     max,
		eng:     eng,
		store:   store,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *writeBehind) start() {
	w.wg.Add(1)
	go w.run()
}

// enqueue takes ownership of the queue reference held on it.
func (w *writeBehind) enqueue(it *Item) {
	w.push(string(it.key), pendingWrite{it: it})
}

func (w *writeBehind) enqueueDelete(key string) {
	w.push(key, pendingWrite{})
}

func (w *writeBehind) push(key string, pw pendingWrite) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.dropRef(pw)
		return
	}
	if old, ok := w.entries[key]; ok {
		// supersede in place; the old entry is never persisted
		w.entries[key] = pw
		w.cond.Signal()
		w.mu.Unlock()
		w.dropRef(old)
		return
	}
	if w.max > 0 && len(w.order) >= w.max {
		w.mu.Unlock()
		w.eng.stats.addWriteDrop()
		w.eng.log.Warn("write-behind queue full, dropping write", Fields{"key": key})
		w.dropRef(pw)
		return
	}
	w.entries[key] = pw
	w.order = append(w.order, key)
	w.cond.Signal()
	w.mu.Unlock()
}

// dropRef returns an item reference without persisting. Called with the queue
// lock released; releaseRef takes the cache lock.
func (w *writeBehind) dropRef(pw pendingWrite) {
	if pw.it != nil {
		w.eng.releaseRef(pw.it)
	}
}

func (w *writeBehind) run() {
	defer w.wg.Done()
	ctx := context.Background()

	w.mu.Lock()
	for {
		for len(w.order) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.order) == 0 {
			// closed and fully drained
			w.mu.Unlock()
			return
		}
		key := w.order[0]
		w.order = w.order[1:]
		pw := w.entries[key]
		delete(w.entries, key)
		w.mu.Unlock()

		// store I/O runs with no lock held
		var err error
		if pw.it == nil {
			err = w.store.Delete(ctx, key)
		} else {
			err = w.store.Upsert(ctx, durable.Record{
				Key:     key,
				Flags:   pw.it.flags,
				Exptime: pw.it.exptime,
				Value:   pw.it.data,
			})
		}
		if err != nil {
			w.eng.stats.addPersistError()
			w.eng.log.Error("write-behind persist failed", Fields{"key": key, "err": err})
		}
		w.dropRef(pw)

		w.mu.Lock()
	}
}

// close stops intake and blocks until every queued write has been flushed.
func (w *writeBehind) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}
