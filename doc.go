// Package slabcache implements a persistent key/value cache engine: an
// in-memory item store (slab-accounted allocation, hashed lookup, per-item
// CAS tokens, LRU eviction) backed by an asynchronous persistence layer.
//
// Components:
//   - Engine: the public operation surface (Get/Store/Delete/Arithmetic/Flush/Stats).
//   - durable.Store: durable table keyed by item key (SQLite, Badger, Redis).
//   - write-behind worker: drains a per-key deduplicating queue into the store.
//   - read-through worker: resolves cache misses from the store and resumes
//     callers through a Notifier.
//   - warmup loader: optional one-shot scan preloading the cache at startup.
//
// The in-memory side is always authoritative: a successful Store is visible to
// Get immediately, durability is best-effort and asynchronous. A Get miss with
// persistence enabled returns ErrWouldBlock; the caller suspends until its
// token is resumed via Notifier.IOComplete and then retries the Get.
//
// Caller contract:
//
//	eng, _ := slabcache.New(slabcache.Options{Store: store, Notifier: host})
//	it, err := eng.Get(token, key)
//	if errors.Is(err, slabcache.ErrWouldBlock) {
//	    // suspend; host resumes on IOComplete(token, err), then retry Get.
//	}
package slabcache
