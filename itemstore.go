package slabcache

import (
	"bytes"
	"strconv"
)

var crlf = []byte("\r\n")

// itemStore owns the hash index, the per-class LRU queues and the slab
// accounting. Every method must be called with the engine's cache lock held;
// none of them block or perform I/O.
type itemStore struct {
	table      map[string]*Item
	heads      []*Item // per class id, newest first
	tails      []*Item
	sizes      []uint64 // linked items per class
	classStats []classStats

	slabs *slabs
	stats *engineStats
	log   Logger

	useCAS  bool
	evict   bool
	verbose int

	// flush watermark: items last touched at or before this are dead
	oldestLive int64

	casID uint64
}

func newItemStore(slabs *slabs, stats *engineStats, log Logger, useCAS, evict bool, verbose int) *itemStore {
	n := len(slabs.classes)
	return &itemStore{
		table:      make(map[string]*Item),
		heads:      make([]*Item, n),
		tails:      make([]*Item, n),
		sizes:      make([]uint64, n),
		classStats: make([]classStats, n),
		slabs:      slabs,
		stats:      stats,
		log:        log,
		useCAS:     useCAS,
		evict:      evict,
		verbose:    verbose,
	}
}

func (s *itemStore) entrySize(nkey, nbytes int) int {
	n := itemHeaderSize + nkey + nbytes
	if s.useCAS {
		n += casSlotSize
	}
	return n
}

func (s *itemStore) itemSize(it *Item) int {
	return s.entrySize(len(it.key), len(it.data))
}

// allocate reserves a chunk for a new unlinked item, reclaiming or evicting
// from the target class tail when the allocator is full. The returned item
// carries one reference for the caller.
func (s *itemStore) allocate(key []byte, flags uint32, exptime uint32, nbytes int) (*Item, error) {
	ntotal := s.entrySize(len(key), nbytes)
	id := s.slabs.clsid(ntotal)
	if id == 0 {
		return nil, ErrTooLarge
	}
	now := nowUnix()

	// quick check for an expired item at the tail; reclaiming one returns
	// its chunk to the free list before we allocate
	tries := 50
	for search := s.tails[id]; tries > 0 && search != nil; search = search.prev {
		tries--
		if search.refcount == 0 && search.expired(now) {
			s.classStats[id].reclaimed++
			s.stats.addReclaimed()
			s.unlink(search)
			break
		}
	}

	if !s.slabs.alloc(id) {
		if err := s.evictInto(id, now); err != nil {
			return nil, err
		}
	}

	it := &Item{
		key:      append([]byte(nil), key...),
		data:     make([]byte, nbytes),
		flags:    flags,
		exptime:  exptime,
		time:     now,
		refcount: 1,
		clsid:    id,
	}
	return it, nil
}

// evictInto frees a chunk in class id by unlinking the least recently used
// unreferenced item, repairing a stuck reference as a last resort.
func (s *itemStore) evictInto(id uint8, now int64) error {
	cs := &s.classStats[id]
	if !s.evict {
		cs.outofmemory++
		return ErrNoMemory
	}
	if s.tails[id] == nil {
		cs.outofmemory++
		return ErrNoMemory
	}

	tries := 50
	for search := s.tails[id]; tries > 0 && search != nil; search = search.prev {
		tries--
		if search.refcount != 0 {
			continue
		}
		if search.expired(now) {
			cs.reclaimed++
			s.stats.addReclaimed()
		} else {
			cs.evicted++
			cs.evictedTime = uint64(now - search.time)
			if search.exptime != 0 {
				cs.evictedNonzero++
			}
			s.stats.addEviction()
			if s.verbose > 1 {
				s.log.Debug("evicting item", Fields{"key": string(search.key), "class": id})
			}
		}
		s.unlink(search)
		break
	}
	if s.slabs.alloc(id) {
		return nil
	}

	cs.outofmemory++
	// Break a reference that has been held implausibly long; refcount leaks
	// would otherwise wedge the class.
	tries = 50
	for search := s.tails[id]; tries > 0 && search != nil; search = search.prev {
		tries--
		if search.refcount != 0 && search.time+tailRepairTime < now {
			cs.tailrepairs++
			search.refcount = 0
			s.unlink(search)
			break
		}
	}
	if s.slabs.alloc(id) {
		return nil
	}
	return ErrNoMemory
}

// get looks up a live item, lazily expiring flushed or dead entries, and
// takes a reference on the result.
func (s *itemStore) get(key []byte) *Item {
	now := nowUnix()
	it := s.table[string(key)] // no allocation
	if it != nil && s.oldestLive != 0 && s.oldestLive <= now && it.time <= s.oldestLive {
		s.unlink(it) // nuked by flush
		it = nil
	}
	if it != nil && it.expired(now) {
		s.unlink(it) // nuked by expire
		it = nil
	}
	if it != nil {
		it.refcount++
	}
	return it
}

func (s *itemStore) link(it *Item) {
	it.linked = true
	it.time = nowUnix()
	s.table[string(it.key)] = it
	s.stats.onLink(s.itemSize(it))
	if s.useCAS {
		s.casID++
		it.cas = s.casID
	}
	s.linkQ(it)
}

func (s *itemStore) unlink(it *Item) {
	if !it.linked {
		return
	}
	it.linked = false
	s.stats.onUnlink(s.itemSize(it))
	delete(s.table, string(it.key))
	s.unlinkQ(it)
	if it.refcount == 0 {
		s.free(it)
	}
}

// release drops one reference; the chunk is reclaimed once the item is both
// unreferenced and unlinked.
func (s *itemStore) release(it *Item) {
	if it.refcount != 0 {
		it.refcount--
	}
	if it.refcount == 0 && !it.linked {
		s.free(it)
	}
}

func (s *itemStore) free(it *Item) {
	s.slabs.release(it.clsid)
	it.slabbed = true
	it.prev, it.next = nil, nil
}

// touch promotes a live item to the head of its LRU queue, at most once per
// itemUpdateInterval.
func (s *itemStore) touch(it *Item) {
	now := nowUnix()
	if it.time >= now-itemUpdateInterval || !it.linked {
		return
	}
	s.unlinkQ(it)
	it.time = now
	s.linkQ(it)
}

func (s *itemStore) replace(old, it *Item) {
	s.unlink(old)
	s.link(it)
}

func (s *itemStore) linkQ(it *Item) {
	head, tail := &s.heads[it.clsid], &s.tails[it.clsid]
	it.prev = nil
	it.next = *head
	if it.next != nil {
		it.next.prev = it
	}
	*head = it
	if *tail == nil {
		*tail = it
	}
	s.sizes[it.clsid]++
}

func (s *itemStore) unlinkQ(it *Item) {
	head, tail := &s.heads[it.clsid], &s.tails[it.clsid]
	if *head == it {
		*head = it.next
	}
	if *tail == it {
		*tail = it.prev
	}
	if it.next != nil {
		it.next.prev = it.prev
	}
	if it.prev != nil {
		it.prev.next = it.next
	}
	it.prev, it.next = nil, nil
	s.sizes[it.clsid]--
}

// storeItem links it under the semantics of op, returning the item that ended
// up linked (a freshly merged one for append/prepend) and its CAS token.
func (s *itemStore) storeItem(it *Item, expectedCAS uint64, op StoreOp) (*Item, uint64, error) {
	old := s.get(it.key)
	if old != nil {
		defer s.release(old)
	}

	switch op {
	case OpAdd:
		if old != nil {
			// add only adds a nonexistent item, but promote the existing
			// one in the LRU
			s.touch(old)
			return nil, 0, ErrNotStored
		}
	case OpReplace, OpAppend, OpPrepend:
		if old == nil {
			return nil, 0, ErrKeyNotFound
		}
	}

	if expectedCAS != 0 {
		if old == nil {
			return nil, 0, ErrKeyNotFound
		}
		if expectedCAS != old.cas {
			if s.verbose > 1 {
				s.log.Debug("cas failure", Fields{
					"key":      string(it.key),
					"expected": expectedCAS,
					"have":     old.cas,
				})
			}
			return nil, 0, ErrKeyExists
		}
	}

	if op == OpAppend || op == OpPrepend {
		merged := concatValues(old.data, it.data, op)
		newIt, err := s.allocate(it.key, old.flags, old.exptime, len(merged))
		if err != nil {
			return nil, 0, err
		}
		copy(newIt.data, merged)
		s.replace(old, newIt)
		cas := newIt.cas
		s.release(newIt) // drop the allocation reference; it stays linked
		return newIt, cas, nil
	}

	if old != nil {
		s.replace(old, it)
	} else {
		s.link(it)
	}
	return it, it.cas, nil
}

// concatValues merges an existing and a new value, trimming the line
// terminator off whichever part ends up in front.
func concatValues(old, add []byte, op StoreOp) []byte {
	var front, back []byte
	if op == OpAppend {
		front, back = old, add
	} else {
		front, back = add, old
	}
	front = bytes.TrimSuffix(front, crlf)
	merged := make([]byte, 0, len(front)+len(back))
	merged = append(merged, front...)
	merged = append(merged, back...)
	return merged
}

// flushExpired raises the oldest-live watermark; dead items are unlinked
// eagerly from the queue heads and lazily on the next get.
func (s *itemStore) flushExpired(when int64) {
	now := nowUnix()
	if when == 0 {
		s.oldestLive = now - 1
	} else {
		s.oldestLive = normalizeFlushTime(when, now) - 1
	}
	if s.oldestLive == 0 {
		return
	}
	for id := 1; id < len(s.heads); id++ {
		// queues are ordered by touch time, newest first; stop at the
		// first item older than the watermark
		for iter := s.heads[id]; iter != nil; {
			if iter.time < s.oldestLive {
				break
			}
			next := iter.next
			s.unlink(iter)
			iter = next
		}
	}
}

func normalizeFlushTime(when, now int64) int64 {
	if when <= relMaxSeconds {
		return now + when
	}
	return when
}

func (s *itemStore) resetStats() {
	for i := range s.classStats {
		s.classStats[i] = classStats{}
	}
}

func (s *itemStore) itemStatsMap() map[string]string {
	out := make(map[string]string)
	now := nowUnix()
	for id := 1; id < len(s.tails); id++ {
		if s.tails[id] == nil {
			continue
		}
		cs := &s.classStats[id]
		prefix := "items:" + strconv.Itoa(id) + ":"
		out[prefix+"number"] = strconv.FormatUint(s.sizes[id], 10)
		out[prefix+"age"] = strconv.FormatInt(now-s.tails[id].time, 10)
		out[prefix+"evicted"] = strconv.FormatUint(cs.evicted, 10)
		out[prefix+"evicted_nonzero"] = strconv.FormatUint(cs.evictedNonzero, 10)
		out[prefix+"evicted_time"] = strconv.FormatUint(cs.evictedTime, 10)
		out[prefix+"outofmemory"] = strconv.FormatUint(cs.outofmemory, 10)
		out[prefix+"tailrepairs"] = strconv.FormatUint(cs.tailrepairs, 10)
		out[prefix+"reclaimed"] = strconv.FormatUint(cs.reclaimed, 10)
	}
	return out
}

// sizeStatsMap buckets linked items by total size at 32-byte granularity.
func (s *itemStore) sizeStatsMap() map[string]string {
	hist := make(map[int]uint64)
	for id := 1; id < len(s.heads); id++ {
		for it := s.heads[id]; it != nil; it = it.next {
			bucket := (s.itemSize(it) + 31) / 32
			hist[bucket]++
		}
	}
	out := make(map[string]string, len(hist))
	for bucket, n := range hist {
		out[strconv.Itoa(bucket*32)] = strconv.FormatUint(n, 10)
	}
	return out
}
