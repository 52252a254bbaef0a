package store

import "container/list"

// pageCache is a bounded LRU over page buffers. Pinned pages are never
// evicted; a page is pinned while a cursor holds a reference into it.
type pageCache struct {
	capacity int
	entries  map[int]*cacheEntry
	lru      *list.List
}

type cacheEntry struct {
	id    int
	data  []byte
	pins  int
	lruEl *list.Element
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		capacity: capacity,
		entries:  make(map[int]*cacheEntry),
		lru:      list.New(),
	}
}

func (c *pageCache) get(id int) *cacheEntry {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(e.lruEl)
	return e
}

// put inserts or replaces a page buffer and returns entries evicted to
// stay within capacity. Dirty and clean entries alike are returned;
// the caller decides which to keep resident. Pinned pages stay.
func (c *pageCache) put(id int, data []byte) (*cacheEntry, []*cacheEntry) {
	if e, ok := c.entries[id]; ok {
		e.data = data
		c.lru.MoveToFront(e.lruEl)
		return e, nil
	}
	e := &cacheEntry{id: id, data: data}
	e.lruEl = c.lru.PushFront(e)
	c.entries[id] = e
	var evicted []*cacheEntry
	for len(c.entries) > c.capacity {
		victim := c.oldestEvictable()
		if victim == nil {
			break
		}
		c.lru.Remove(victim.lruEl)
		delete(c.entries, victim.id)
		evicted = append(evicted, victim)
	}
	return e, evicted
}

func (c *pageCache) oldestEvictable() *cacheEntry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*cacheEntry)
		if e.pins == 0 {
			return e
		}
	}
	return nil
}

func (c *pageCache) drop(id int) {
	if e, ok := c.entries[id]; ok {
		c.lru.Remove(e.lruEl)
		delete(c.entries, id)
	}
}

func (c *pageCache) pin(id int) {
	if e, ok := c.entries[id]; ok {
		e.pins++
	}
}

func (c *pageCache) unpin(id int) {
	if e, ok := c.entries[id]; ok && e.pins > 0 {
		e.pins--
	}
}
