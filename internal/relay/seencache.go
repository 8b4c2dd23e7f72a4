package relay

import (
	"container/list"
	"sync"
)

// seenCacheCapacity is the fixed LRU capacity for mesh duplicate suppression
// (spec.md §4.B).
const seenCacheCapacity = 1000

// SeenCache is a bounded LRU of recently relayed envelope keys, used to drop
// envelopes the device has already forwarded.
type SeenCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[seenKey]*list.Element
}

// NewSeenCache constructs a SeenCache with the default capacity (1000).
func NewSeenCache() *SeenCache {
	return &SeenCache{
		capacity: seenCacheCapacity,
		order:    list.New(),
		index:    make(map[seenKey]*list.Element, seenCacheCapacity),
	}
}

// Seen reports whether the envelope's (sender, tx id, fragment index) key is
// already present, without recording it.
func (c *SeenCache) Seen(env *Envelope) bool {
	key := seenKey{sender: env.Sender, txID: env.Fragment.TxID, index: env.Fragment.Index}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if ok {
		c.order.MoveToFront(elem)
	}
	return ok
}

// Record marks an envelope's key as seen, evicting the least-recently-seen
// entry if the cache is at capacity. Returns true if this was a new key.
func (c *SeenCache) Record(env *Envelope) bool {
	key := seenKey{sender: env.Sender, txID: env.Fragment.TxID, index: env.Fragment.Index}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.order.MoveToFront(elem)
		return false
	}

	elem := c.order.PushFront(key)
	c.index[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(seenKey))
		}
	}
	return true
}

// Len returns the number of entries currently tracked.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
