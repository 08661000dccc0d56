package orders

import "sync"

// Cache keeps a transient copy of order attributes until the backend catches up.
// It is never authoritative: callers prefer a fresh backend read when they have one.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Order
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Order)}
}

// Put merges o into the cached record for o.ID.
func (c *Cache) Put(o Order) {
	if o.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[o.ID]; ok {
		c.entries[o.ID] = prev.Merge(o)
		return
	}
	c.entries[o.ID] = o
}

func (c *Cache) Get(orderID string) (Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.entries[orderID]
	return o, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
