// Package lro implements the long-running-operation affinity cache.
//
// Vertex's predictLongRunning returns an opaque operation name bound to the
// project that started it; subsequent fetchPredictOperation polls for the
// same name must land on that project, or the upstream 404s. This cache
// maps operation name -> project id so the gateway can pin those polls,
// bypassing round robin.
package lro

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a remembered project id with its FIFO list element, so
// eviction can remove both the map entry and its position in O(1).
type entry struct {
	projectID string
	rememberedAt time.Time
	elem      *list.Element
}

// Cache is a concurrent, capacity-bounded operation-name -> project-id map.
// Eviction is FIFO: entries become unreachable once the upstream operation
// terminates, but the cache has no way to know that, so it simply bounds
// its own size rather than tracking operation lifecycle.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*entry
	order    *list.List
	now      func() time.Time
}

// NewCache constructs a cache with the given capacity and entry TTL. A
// non-positive capacity or ttl disables that bound (unlimited / no expiry).
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*entry),
		order:    list.New(),
		now:      time.Now,
	}
}

// Remember records opName -> projectID. Last-writer-wins: the same
// operation name reappearing is not expected, but if it does the newest
// association replaces the old one and moves to the back of the FIFO.
func (c *Cache) Remember(opName, projectID string) {
	if opName == "" || projectID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[opName]; ok {
		c.order.Remove(existing.elem)
		delete(c.entries, opName)
	}

	elem := c.order.PushBack(opName)
	c.entries[opName] = &entry{projectID: projectID, rememberedAt: c.now(), elem: elem}

	if c.capacity > 0 {
		for len(c.entries) > c.capacity {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(string))
		}
	}
}

// Lookup returns the project id remembered for opName, if any and not
// expired. The caller (the gateway) is responsible for falling back to
// normal rotation on a miss; Lookup never performs that fallback itself.
func (c *Cache) Lookup(opName string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[opName]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(e.rememberedAt) > c.ttl {
		c.order.Remove(e.elem)
		delete(c.entries, opName)
		return "", false
	}
	return e.projectID, true
}

// Len reports the number of live entries, for health/telemetry surfaces.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
