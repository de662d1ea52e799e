package slabcache

import (
	"strconv"
	"sync"
)

// engineStats is the engine-wide counter block. It has its own lock so stats
// reads never serialize against cache traffic.
type engineStats struct {
	mu            sync.Mutex
	evictions     uint64
	reclaimed     uint64
	currBytes     uint64
	currItems     uint64
	totalItems    uint64
	writeDrops    uint64
	persistErrors uint64
}

func (st *engineStats) onLink(ntotal int) {
	st.mu.Lock()
	st.currBytes += uint64(ntotal)
	st.currItems++
	st.totalItems++
	st.mu.Unlock()
}

func (st *engineStats) onUnlink(ntotal int) {
	st.mu.Lock()
	st.currBytes -= uint64(ntotal)
	st.currItems--
	st.mu.Unlock()
}

func (st *engineStats) addEviction() {
	st.mu.Lock()
	st.evictions++
	st.mu.Unlock()
}

func (st *engineStats) addReclaimed() {
	st.mu.Lock()
	st.reclaimed++
	st.mu.Unlock()
}

func (st *engineStats) addWriteDrop() {
	st.mu.Lock()
	st.writeDrops++
	st.mu.Unlock()
}

func (st *engineStats) addPersistError() {
	st.mu.Lock()
	st.persistErrors++
	st.mu.Unlock()
}

// reset zeroes the monotonic counters; the current-usage gauges stay.
func (st *engineStats) reset() {
	st.mu.Lock()
	st.evictions = 0
	st.reclaimed = 0
	st.totalItems = 0
	st.writeDrops = 0
	st.persistErrors = 0
	st.mu.Unlock()
}

func (st *engineStats) snapshot() map[string]string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return map[string]string{
		"evictions":      strconv.FormatUint(st.evictions, 10),
		"reclaimed":      strconv.FormatUint(st.reclaimed, 10),
		"curr_items":     strconv.FormatUint(st.currItems, 10),
		"total_items":    strconv.FormatUint(st.totalItems, 10),
		"bytes":          strconv.FormatUint(st.currBytes, 10),
		"write_drops":    strconv.FormatUint(st.writeDrops, 10),
		"persist_errors": strconv.FormatUint(st.persistErrors, 10),
	}
}

// classStats are the per-slab-class item counters ("items" stats group).
type classStats struct {
	evicted        uint64
	evictedNonzero uint64
	evictedTime    uint64 // age of the last evicted item, seconds
	outofmemory    uint64
	tailrepairs    uint64
	reclaimed      uint64
}
