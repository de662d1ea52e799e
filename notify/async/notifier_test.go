package async

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/slabcache"
)

type collector struct {
	mu   sync.Mutex
	got  []any
	errs []error
}

func (c *collector) IOComplete(token any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, token)
	c.errs = append(c.errs, err)
}

func TestDeliversEverySignal(t *testing.T) {
	inner := &collector{}
	n := New(inner, 2, 8)

	const total = 100
	for i := 0; i < total; i++ {
		n.IOComplete(i, nil)
	}
	n.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.got) != total {
		t.Fatalf("delivered %d signals, want %d", len(inner.got), total)
	}
	seen := make(map[any]bool, total)
	for _, tok := range inner.got {
		if seen[tok] {
			t.Fatalf("token %v delivered twice", tok)
		}
		seen[tok] = true
	}
}

func TestCloseIdempotent(t *testing.T) {
	n := New(&collector{}, 1, 1)
	n.Close()
	n.Close()
}

func TestErrorPassesThrough(t *testing.T) {
	inner := &collector{}
	n := New(inner, 1, 1)
	n.IOComplete("tok", slabcache.ErrKeyNotFound)
	n.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.errs) != 1 || inner.errs[0] != slabcache.ErrKeyNotFound {
		t.Fatalf("errs = %v", inner.errs)
	}
}
