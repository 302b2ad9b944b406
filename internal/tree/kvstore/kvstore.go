package kvstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = errors.New("key not found")

// ByteMap is a persistent byte-keyed map on leveldb.
type ByteMap struct {
	db     *leveldb.DB
	length int
}

func NewByteMap(dbPath string) (*ByteMap, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, err
	}
	bm := &ByteMap{db: db}
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		bm.length++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return bm, nil
}

func (bm *ByteMap) Get(key []byte) ([]byte, error) {
	value, err := bm.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %x", ErrNotFound, key)
		}
		return nil, err
	}
	return value, nil
}

func (bm *ByteMap) Has(key []byte) (bool, error) {
	return bm.db.Has(key, nil)
}

// Insert adds or updates a key-value pair in the map.
func (bm *ByteMap) Insert(key []byte, value []byte) error {
	exists, err := bm.db.Has(key, nil)
	if err != nil {
		return err
	}
	if err := bm.db.Put(key, value, nil); err != nil {
		return err
	}
	if !exists {
		bm.length++
	}
	return nil
}

func (bm *ByteMap) Delete(key []byte) error {
	exists, err := bm.db.Has(key, nil)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %x", ErrNotFound, key)
	}
	if err := bm.db.Delete(key, nil); err != nil {
		return err
	}
	bm.length--
	return nil
}

// Iterate calls fn for every key with the prefix, in key order.
func (bm *ByteMap) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := bm.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Length returns the number of elements in the map.
func (bm *ByteMap) Length() int {
	return bm.length
}

func (bm *ByteMap) Close() error {
	return bm.db.Close()
}
