package cache

import (
	"testing"
)

func TestCacheInsert(t *testing.T) {
	lru := NewLRUCache[string, int](3)
	_, _ = lru.Insert("value1", 1)
	_, _ = lru.Insert("value2", 2)
	_, evicted := lru.Insert("value3", 3)
	if evicted {
		t.Fatalf("Expected no eviction")
	}
	evictedKey, evicted := lru.Insert("value4", 4)
	if !evicted {
		t.Fatalf("Expected eviction")
	}
	if evictedKey != "value1" {
		t.Fatalf("Expected value1 to be evicted, got %s", evictedKey)
	}
	if lru.Len() != 3 {
		t.Fatalf("Expected length of 3, got %d", lru.Len())
	}
}

func TestCacheGetRefreshes(t *testing.T) {
	lru := NewLRUCache[string, int](2)
	lru.Insert("a", 1)
	lru.Insert("b", 2)
	if v, ok := lru.Get("a"); !ok || v != 1 {
		t.Fatalf("Expected a=1, got %d %t", v, ok)
	}
	evictedKey, evicted := lru.Insert("c", 3)
	if !evicted || evictedKey != "b" {
		t.Fatalf("Expected b to be evicted, got %s %t", evictedKey, evicted)
	}
	if _, ok := lru.Get("b"); ok {
		t.Fatalf("Expected b to be gone")
	}
	lru.Insert("a", 10)
	if v, _ := lru.Get("a"); v != 10 {
		t.Fatalf("Expected a=10, got %d", v)
	}
}
