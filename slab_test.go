package slabcache

import (
	"strings"
	"testing"
)

func TestSlabClassGrowth(t *testing.T) {
	s := newSlabs(64<<20, 48, 1.25, 1<<20, false)

	if len(s.classes) < 3 {
		t.Fatalf("too few classes: %d", len(s.classes))
	}
	for id := 1; id < len(s.classes); id++ {
		c := s.classes[id]
		if c.size%chunkAlign != 0 && id != len(s.classes)-1 {
			t.Fatalf("class %d size %d not aligned", id, c.size)
		}
		if id > 1 && c.size <= s.classes[id-1].size {
			t.Fatalf("class %d size %d not above previous %d", id, c.size, s.classes[id-1].size)
		}
		if c.perPage < 1 {
			t.Fatalf("class %d has no chunks per page", id)
		}
	}
	if last := s.classes[len(s.classes)-1]; last.size != 1<<20 {
		t.Fatalf("largest class size %d, want %d", last.size, 1<<20)
	}
}

func TestSlabClsid(t *testing.T) {
	s := newSlabs(64<<20, 48, 1.25, 1<<20, false)

	id := s.clsid(100)
	if id == 0 {
		t.Fatalf("no class for 100 bytes")
	}
	if got := s.classes[id].size; got < 100 {
		t.Fatalf("class %d size %d below requested 100", id, got)
	}
	if id > 1 && 100 <= s.classes[id-1].size {
		t.Fatalf("class %d is not the smallest fit for 100", id)
	}

	if got := s.clsid(1 << 20); got != uint8(len(s.classes)-1) {
		t.Fatalf("clsid(itemMax) = %d, want the largest class %d", got, len(s.classes)-1)
	}
	if got := s.clsid(1<<20 + 1); got != 0 {
		t.Fatalf("clsid(itemMax+1) = %d, want 0", got)
	}
}

func TestSlabAllocRelease(t *testing.T) {
	s := newSlabs(64<<20, 48, 1.25, 1<<20, false)
	id := s.clsid(100)

	if !s.alloc(id) {
		t.Fatalf("first alloc failed")
	}
	c := &s.classes[id]
	if c.pages != 1 || c.used != 1 || c.free != c.perPage-1 {
		t.Fatalf("after alloc: pages=%d used=%d free=%d", c.pages, c.used, c.free)
	}
	if s.allocated != int64(c.size)*int64(c.perPage) {
		t.Fatalf("allocated = %d, want one page", s.allocated)
	}

	s.release(id)
	if c.used != 0 || c.free != c.perPage {
		t.Fatalf("after release: used=%d free=%d", c.used, c.free)
	}
	// pages are never returned
	if c.pages != 1 {
		t.Fatalf("pages after release: %d, want 1", c.pages)
	}
}

func TestSlabRespectsCacheSize(t *testing.T) {
	// room for exactly one page of the largest class
	s := newSlabs(1<<20, 48, 1.25, 64<<10, false)
	id := uint8(len(s.classes) - 1)
	per := s.classes[id].perPage

	for i := 0; i < per; i++ {
		if !s.alloc(id) {
			t.Fatalf("alloc %d/%d failed", i+1, per)
		}
	}
	if s.alloc(id) {
		t.Fatalf("alloc beyond the cache size succeeded")
	}
	s.release(id)
	if !s.alloc(id) {
		t.Fatalf("alloc after release failed")
	}
}

func TestSlabPreallocate(t *testing.T) {
	s := newSlabs(64<<20, 48, 1.25, 1<<20, true)
	for id := 1; id < len(s.classes); id++ {
		if s.classes[id].pages == 0 {
			t.Fatalf("class %d not preallocated", id)
		}
	}
	if s.allocated == 0 {
		t.Fatalf("nothing accounted after preallocate")
	}
}

func TestSlabStatsMap(t *testing.T) {
	s := newSlabs(64<<20, 48, 1.25, 1<<20, false)
	id := s.clsid(100)
	s.alloc(id)

	m := s.statsMap()
	if m["active_slabs"] != "1" {
		t.Fatalf("active_slabs = %q, want 1", m["active_slabs"])
	}
	if m["total_malloced"] == "0" {
		t.Fatalf("total_malloced = 0")
	}
	used := ""
	for k, v := range m {
		if strings.HasSuffix(k, ":used_chunks") {
			used = v
		}
	}
	if used != "1" {
		t.Fatalf("per-class used_chunks missing or wrong: %v", m)
	}
}
