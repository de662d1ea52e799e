// Package async decouples resumption dispatch from the read-through worker.
//
// usage:
//
//	n := async.New(myNotifier, 1, 1000) // 1 worker; queue 1000 signals
//	eng, _ := slabcache.New(slabcache.Options{
//	    Store:    store,
//	    Notifier: n, // or myNotifier directly if it never blocks
//	})
//	...
//	eng.Close(ctx) // first: the engine flushes pending signals into n
//	n.Close()      // then: n drains and stops
package async

import (
	"sync"

	"github.com/unkn0wn-root/slabcache"
)

// Notifier fans resumption signals out to worker goroutines so a slow host
// dispatcher never stalls the read-through worker. Unlike a hook bus it never
// drops: every signal is delivered exactly once, IOComplete blocks when the
// queue is full.
//
// Close only after the engine is closed; IOComplete after Close panics.
type Notifier struct {
	inner slabcache.Notifier
	q     chan signal
	wg    sync.WaitGroup
	once  sync.Once
}

type signal struct {
	token any
	err   error
}

var _ slabcache.Notifier = (*Notifier)(nil)

func New(inner slabcache.Notifier, workers, qlen int) *Notifier {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	n := &Notifier{inner: inner, q: make(chan signal, qlen)}
	n.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer n.wg.Done()
			for s := range n.q {
				n.inner.IOComplete(s.token, s.err)
			}
		}()
	}
	return n
}

func (n *Notifier) IOComplete(token any, err error) {
	n.q <- signal{token: token, err: err}
}

// Close drains the queue and stops the workers. Idempotent.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.q)
		n.wg.Wait()
	})
}
