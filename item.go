package slabcache

import "time"

const (
	// Nominal per-item bookkeeping overhead counted against the cache size.
	itemHeaderSize = 48
	casSlotSize    = 8

	// Items are repositioned in the LRU only when their last touch is older
	// than this, to avoid churn on hot keys.
	itemUpdateInterval = 60

	// How long an item can reasonably be assumed to be referenced before a
	// stuck reference is broken on a low memory condition.
	tailRepairTime = 3 * 3600

	// Expiry values up to this many seconds are relative to now; larger
	// values are absolute unix seconds.
	relMaxSeconds = 60 * 60 * 24 * 30
)

// Item is one cache entry. Key, value, flags and expiry are immutable after
// allocation; an update links a fresh item in place of the old one. Items are
// reference counted: holders obtained one from Allocate or Get and must hand
// it back with Release.
type Item struct {
	key     []byte
	data    []byte
	flags   uint32
	exptime uint32 // absolute unix seconds; 0 = never
	cas     uint64 // assigned on link when CAS is enabled

	time     int64 // last LRU touch, unix seconds
	refcount int32
	clsid    uint8
	linked   bool
	slabbed  bool // chunk returned to the slab free list

	prev, next *Item // per-class LRU queue
}

// Key returns the item key. The slice is owned by the item; do not mutate.
func (it *Item) Key() []byte { return it.key }

// Value returns the item value bytes. Owned by the item; do not mutate after
// the item was stored.
func (it *Item) Value() []byte { return it.data }

func (it *Item) Flags() uint32   { return it.flags }
func (it *Item) Exptime() uint32 { return it.exptime }

// CAS returns the item's concurrency token; 0 when CAS is disabled or the
// item was never linked.
func (it *Item) CAS() uint64 { return it.cas }

// SlabClass returns the id of the size class backing the item.
func (it *Item) SlabClass() uint8 { return it.clsid }

func (it *Item) expired(now int64) bool {
	return it.exptime != 0 && int64(it.exptime) <= now
}

// ItemInfo is the opaque descriptor handed to the host for a held item.
type ItemInfo struct {
	Key       []byte
	Value     []byte
	Flags     uint32
	Exptime   uint32
	CAS       uint64
	Size      int
	SlabClass uint8
}

func nowUnix() int64 { return time.Now().Unix() }

// normalizeExptime applies the relative/absolute expiry convention.
func normalizeExptime(exptime uint32, now int64) uint32 {
	if exptime == 0 {
		return 0
	}
	if int64(exptime) <= relMaxSeconds {
		return uint32(now + int64(exptime))
	}
	return exptime
}
