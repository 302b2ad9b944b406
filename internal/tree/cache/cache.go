package cache

import (
	"container/list"
	"sync"
)

// LRUCache is a fixed-capacity cache evicting the least recently used entry.
// It is safe for concurrent use.
type LRUCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	cache    map[K]*list.Element
	queue    *list.List
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

func NewLRUCache[K comparable, V any](capacity int) *LRUCache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache[K, V]{
		capacity: capacity,
		cache:    make(map[K]*list.Element),
		queue:    list.New(),
	}
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[key]
	if !ok {
		return value, false
	}
	c.queue.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Insert adds or refreshes key and returns the entry evicted to make room.
func (c *LRUCache[K, V]) Insert(key K, value V) (evictedKey K, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.queue.MoveToFront(elem)
		return evictedKey, false
	}

	elem := c.queue.PushFront(&entry[K, V]{key: key, value: value})
	c.cache[key] = elem

	if c.queue.Len() > c.capacity {
		lastElem := c.queue.Back()
		if lastElem != nil {
			lastEntry := lastElem.Value.(*entry[K, V])
			c.queue.Remove(lastElem)
			delete(c.cache, lastEntry.key)
			return lastEntry.key, true
		}
	}

	return evictedKey, false
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
