package player

import "sync"

const cacheShards = 16

// FrameCache holds converted frames keyed by frame index. It is sharded so
// prefetch workers and the scheduler rarely contend on the same lock. Entries
// are write-once: the first Put for an index wins.
type FrameCache struct {
	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[int]*AsciiFrame
}

// NewFrameCache creates an empty cache
func NewFrameCache() *FrameCache {
	c := &FrameCache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[int]*AsciiFrame)
	}
	return c
}

func (c *FrameCache) shard(index int) *cacheShard {
	if index < 0 {
		index = -index
	}
	return &c.shards[index%cacheShards]
}

// Get returns the converted frame for index, if cached
func (c *FrameCache) Get(index int) (*AsciiFrame, bool) {
	s := c.shard(index)
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.entries[index]
	return f, ok
}

// Put stores f under index unless an entry already exists. It returns the
// entry that ends up in the cache.
func (c *FrameCache) Put(index int, f *AsciiFrame) *AsciiFrame {
	s := c.shard(index)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[index]; ok {
		return existing
	}
	s.entries[index] = f
	return f
}

// Trim drops every entry outside [lo, hi]
func (c *FrameCache) Trim(lo, hi int) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for index := range s.entries {
			if index < lo || index > hi {
				delete(s.entries, index)
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of cached frames
func (c *FrameCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
