package slabcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/slabcache/durable"
)

// runWarmup preloads the cache from a full durable scan. Records land with add
// semantics so anything stored while the scan runs wins over the disk copy.
func (e *engine) runWarmup() {
	defer close(e.warmupDone)

	start := time.Now()
	var loaded, skipped int
	err := e.durable.Scan(context.Background(), func(rec durable.Record) error {
		if e.materialize(rec) {
			loaded++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		e.log.Error("warmup scan aborted", Fields{
			"err":    err,
			"loaded": loaded,
		})
		return
	}
	e.log.Info("warmup complete", Fields{
		"loaded":  loaded,
		"skipped": skipped,
		"elapsed": time.Since(start).String(),
	})
}
