package slabcache

import "strconv"

const (
	chunkAlign = 8
	slabPage   = 1 << 20
	// Class ids fit in Item.clsid; id 0 means "no class fits".
	maxSlabClasses = 200
)

// slabClass is one fixed chunk-size bucket. The allocator is an accounting
// arena: it tracks pages and chunks to enforce the configured cache size and
// drive eviction, while the item bytes themselves belong to the Go runtime.
type slabClass struct {
	size    int // chunk size in bytes
	perPage int // chunks carved from one page
	pages   int
	used    int // chunks handed out
	free    int // chunks available without growing
}

type slabs struct {
	classes   []slabClass // index 0 unused
	maxBytes  int64
	allocated int64 // bytes reserved in pages
}

func newSlabs(maxBytes int64, chunkSize int, factor float64, itemMax int, preallocate bool) *slabs {
	s := &slabs{
		classes:  []slabClass{{}},
		maxBytes: maxBytes,
	}
	size := alignChunk(chunkSize)
	for size <= int(float64(itemMax)/factor) && len(s.classes) < maxSlabClasses-1 {
		s.classes = append(s.classes, makeClass(size))
		next := alignChunk(int(float64(size) * factor))
		if next <= size {
			next = size + chunkAlign
		}
		size = next
	}
	// the largest class holds exactly the biggest storable item
	s.classes = append(s.classes, makeClass(itemMax))

	if preallocate {
		for id := 1; id < len(s.classes); id++ {
			s.grow(uint8(id))
		}
	}
	return s
}

func makeClass(size int) slabClass {
	per := slabPage / size
	if per < 1 {
		per = 1
	}
	return slabClass{size: size, perPage: per}
}

func alignChunk(n int) int {
	if n < chunkAlign {
		n = chunkAlign
	}
	if rem := n % chunkAlign; rem != 0 {
		n += chunkAlign - rem
	}
	return n
}

// clsid returns the smallest class fitting n bytes, or 0 when none does.
func (s *slabs) clsid(n int) uint8 {
	for id := 1; id < len(s.classes); id++ {
		if n <= s.classes[id].size {
			return uint8(id)
		}
	}
	return 0
}

// alloc takes one chunk from class id, growing by a page when the cache size
// allows. Reports false when the class is full and no page fits.
func (s *slabs) alloc(id uint8) bool {
	c := &s.classes[id]
	if c.free == 0 && !s.grow(id) {
		return false
	}
	c.free--
	c.used++
	return true
}

// release puts a chunk back on the class free list.
func (s *slabs) release(id uint8) {
	c := &s.classes[id]
	c.used--
	c.free++
}

func (s *slabs) grow(id uint8) bool {
	c := &s.classes[id]
	pageBytes := int64(c.size) * int64(c.perPage)
	if s.allocated+pageBytes > s.maxBytes {
		return false
	}
	s.allocated += pageBytes
	c.pages++
	c.free += c.perPage
	return true
}

func (s *slabs) statsMap() map[string]string {
	out := make(map[string]string)
	active := 0
	for id := 1; id < len(s.classes); id++ {
		c := &s.classes[id]
		if c.pages == 0 {
			continue
		}
		active++
		prefix := strconv.Itoa(id) + ":"
		out[prefix+"chunk_size"] = strconv.Itoa(c.size)
		out[prefix+"chunks_per_page"] = strconv.Itoa(c.perPage)
		out[prefix+"total_pages"] = strconv.Itoa(c.pages)
		out[prefix+"total_chunks"] = strconv.Itoa(c.pages * c.perPage)
		out[prefix+"used_chunks"] = strconv.Itoa(c.used)
		out[prefix+"free_chunks"] = strconv.Itoa(c.free)
	}
	out["active_slabs"] = strconv.Itoa(active)
	out["total_malloced"] = strconv.FormatInt(s.allocated, 10)
	return out
}
