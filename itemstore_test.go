package slabcache

import (
	"bytes"
	"testing"
)

func newTestStore(t *testing.T) *itemStore {
	t.Helper()
	slabs := newSlabs(64<<20, 48, 1.25, 1<<20, false)
	return newItemStore(slabs, &engineStats{}, NopLogger{}, true, true, 0)
}

func TestTouchDamping(t *testing.T) {
	s := newTestStore(t)

	a, err := s.allocate([]byte("a"), 0, 0, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	b, err := s.allocate([]byte("b"), 0, 0, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	s.link(a)
	s.link(b)
	s.release(a)
	s.release(b)

	id := a.clsid
	if s.heads[id] != b || s.tails[id] != a {
		t.Fatalf("queue order after link: head=%v tail=%v", s.heads[id], s.tails[id])
	}

	// a touch within the update interval must not reorder the queue
	s.touch(a)
	if s.heads[id] != b {
		t.Fatalf("touch within interval reordered the queue")
	}

	// pretend a has been idle past the interval
	a.time -= itemUpdateInterval + 1
	s.touch(a)
	if s.heads[id] != a || s.tails[id] != b {
		t.Fatalf("stale touch did not promote: head=%v tail=%v", s.heads[id], s.tails[id])
	}
}

func TestConcatValues(t *testing.T) {
	cases := []struct {
		name string
		old  string
		add  string
		op   StoreOp
		want string
	}{
		{"append plain", "abc", "def", OpAppend, "abcdef"},
		{"prepend plain", "abc", "def", OpPrepend, "defabc"},
		{"append trims old terminator", "abc\r\n", "def\r\n", OpAppend, "abcdef\r\n"},
		{"prepend trims added terminator", "abc\r\n", "def\r\n", OpPrepend, "defabc\r\n"},
		{"append empty", "abc", "", OpAppend, "abc"},
	}
	for _, tc := range cases {
		got := concatValues([]byte(tc.old), []byte(tc.add), tc.op)
		if !bytes.Equal(got, []byte(tc.want)) {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExpiredReclaimOnAllocate(t *testing.T) {
	s := newTestStore(t)

	dead, err := s.allocate([]byte("dead"), 0, uint32(nowUnix()-10), 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	s.link(dead)
	s.release(dead)

	// allocating in the same class finds the expired tail and reclaims it
	live, err := s.allocate([]byte("live"), 0, 0, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if dead.linked {
		t.Fatalf("expired tail still linked after allocate")
	}
	if s.classStats[live.clsid].reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", s.classStats[live.clsid].reclaimed)
	}
	s.release(live)
}

func TestTailRepair(t *testing.T) {
	slabs := newSlabs(1<<20, 48, 1.25, 64<<10, false)
	s := newItemStore(slabs, &engineStats{}, NopLogger{}, true, true, 0)

	// fill the largest class with items whose references leaked long ago
	id := uint8(len(slabs.classes) - 1)
	nbytes := slabs.classes[id].size - s.entrySize(3, 0)
	per := slabs.classes[id].perPage
	items := make([]*Item, 0, per)
	for i := 0; i < per; i++ {
		key := []byte{'k', byte('a' + i/26), byte('a' + i%26)}
		it, err := s.allocate(key, 0, 0, nbytes)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		s.link(it)
		it.time -= tailRepairTime + 10
		items = append(items, it)
	}

	// every chunk is referenced, nothing evictable: the stuck tail gets its
	// reference broken
	it, err := s.allocate([]byte("new"), 0, 0, nbytes)
	if err != nil {
		t.Fatalf("allocate after tail repair: %v", err)
	}
	if s.classStats[id].tailrepairs != 1 {
		t.Fatalf("tailrepairs = %d, want 1", s.classStats[id].tailrepairs)
	}
	if items[0].linked {
		t.Fatalf("repaired tail still linked")
	}
	s.release(it)
}

func TestUnlinkDefersFreeWhileReferenced(t *testing.T) {
	s := newTestStore(t)

	it, err := s.allocate([]byte("k"), 0, 0, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	s.link(it)
	// caller still holds the allocation reference
	s.unlink(it)
	if it.slabbed {
		t.Fatalf("freed while referenced")
	}
	s.release(it)
	if !it.slabbed {
		t.Fatalf("not freed after last release")
	}
}
