// Package spellcache persists the extraction result of prior transactions so
// a spell is verified at most once per raw transaction.
package spellcache

import (
	"errors"
	"fmt"

	"github.com/RiemaLabs/charms-indexer/internal/cborx"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/tree/cache"
	"github.com/RiemaLabs/charms-indexer/internal/tree/kvstore"
	"github.com/RiemaLabs/charms-indexer/spell"
)

const DefaultCapacity = 4096

type entry struct {
	_       struct{} `cbor:",toarray"`
	Spell   *spell.NormalizedSpell
	OutsLen int
}

// Cache keeps recent entries in memory in front of a leveldb store.
type Cache struct {
	lru   *cache.LRUCache[[32]byte, spell.PrevSpell]
	store *kvstore.ByteMap
}

func Open(path string, capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	store, err := kvstore.NewByteMap(path)
	if err != nil {
		return nil, fmt.Errorf("error during opening spell cache: %w", err)
	}
	return &Cache{lru: cache.NewLRUCache[[32]byte, spell.PrevSpell](capacity), store: store}, nil
}

func (c *Cache) Get(key [32]byte) (spell.PrevSpell, bool) {
	if prev, ok := c.lru.Get(key); ok {
		return prev, true
	}
	raw, err := c.store.Get(key[:])
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logs.Warnf("Failed to read spell cache due to %v", err)
		}
		return spell.PrevSpell{}, false
	}
	var e entry
	if err := cborx.Unmarshal(raw, &e); err != nil {
		logs.Warnf("Failed to decode spell cache entry %x due to %v", key, err)
		return spell.PrevSpell{}, false
	}
	prev := spell.PrevSpell{Spell: e.Spell, OutsLen: e.OutsLen}
	c.lru.Insert(key, prev)
	return prev, true
}

func (c *Cache) Put(key [32]byte, prev spell.PrevSpell) {
	c.lru.Insert(key, prev)
	raw, err := cborx.Marshal(entry{Spell: prev.Spell, OutsLen: prev.OutsLen})
	if err != nil {
		logs.Warnf("Failed to encode spell cache entry %x due to %v", key, err)
		return
	}
	if err := c.store.Insert(key[:], raw); err != nil {
		logs.Warnf("Failed to write spell cache due to %v", err)
	}
}

func (c *Cache) Len() int {
	return c.store.Length()
}

func (c *Cache) Close() error {
	return c.store.Close()
}
