package slabcache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/slabcache/durable"
)

type pendingRead struct {
	token any
	key   string
}

// readThrough resolves cache misses against the durable store in the
// background. Every enqueued token is notified exactly once: nil when the key
// was fetched and is now live in cache, ErrKeyNotFound otherwise.
type readThrough struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []pendingRead
	closed bool

	eng      *engine
	store    durable.Store
	notifier Notifier
	wg       sync.WaitGroup
}

func newReadThrough(eng *engine, store durable.Store, notifier Notifier) *readThrough {
	r := &readThrough{
		eng:      eng,
		store:    store,
		notifier: notifier,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *readThrough) start() {
	r.wg.Add(1)
	go r.run()
}

func (r *readThrough) enqueue(token any, key string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.notifier.IOComplete(token, ErrKeyNotFound)
		return
	}
	r.queue = append(r.queue, pendingRead{token: token, key: key})
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *readThrough) run() {
	defer r.wg.Done()
	ctx := context.Background()

	r.mu.Lock()
	for {
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		pr := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		outcome := ErrKeyNotFound
		rec, err := r.store.Fetch(ctx, pr.key)
		switch {
		case err == nil:
			if r.eng.materialize(rec) {
				outcome = nil
			}
		case errors.Is(err, durable.ErrNotFound):
			// plain miss
		default:
			r.eng.stats.addPersistError()
			r.eng.log.Error("read-through fetch failed", Fields{"key": pr.key, "err": err})
		}
		r.notifier.IOComplete(pr.token, outcome)

		r.mu.Lock()
	}
}

// close stops intake and drains the queue; pending tokens are still notified.
func (r *readThrough) close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	r.wg.Wait()
}
