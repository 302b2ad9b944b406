package tree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	verkle "github.com/RiemaLabs/go-verkle"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/tree/kvstore"
)

var (
	leafPrefix = []byte("leaf/")
	heightKey  = []byte("meta/height")
)

// SpellTree is a verkle commitment over indexed spells, keyed by txid. Leaves
// are persisted in a kvstore and replayed into memory on open.
type SpellTree struct {
	mu     sync.Mutex
	root   verkle.VerkleNode
	store  *kvstore.ByteMap
	height uint64
}

func OpenSpellTree(storePath string) (*SpellTree, error) {
	store, err := kvstore.NewByteMap(storePath)
	if err != nil {
		return nil, fmt.Errorf("error during opening kvstore: %w", err)
	}
	t := &SpellTree{root: verkle.New(), store: store}

	err = store.Iterate(leafPrefix, func(key, value []byte) error {
		return t.root.Insert(key[len(leafPrefix):], value, nil)
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error during replaying leaves from %s: %w", storePath, err)
	}

	raw, err := store.Get(heightKey)
	switch {
	case err == nil && len(raw) == 8:
		t.height = binary.BigEndian.Uint64(raw)
	case err == nil:
		_ = store.Close()
		return nil, fmt.Errorf("%s file broken: height record has %d bytes", storePath, len(raw))
	case !errors.Is(err, kvstore.ErrNotFound):
		_ = store.Close()
		return nil, err
	}
	logs.Debugf("Opened spell tree at %s with %d leaves", storePath, store.Length())
	return t, nil
}

// Insert commits value under key. Both must be verkle.KeySize bytes.
func (t *SpellTree) Insert(key, value []byte) error {
	if len(key) != verkle.KeySize || len(value) != verkle.KeySize {
		return fmt.Errorf("the length of key and value must be %d, current is: %d, %d", verkle.KeySize, len(key), len(value))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.root.Insert(key, value, nil); err != nil {
		return err
	}
	return t.store.Insert(append(append([]byte{}, leafPrefix...), key...), value)
}

func (t *SpellTree) Get(key []byte) ([]byte, error) {
	if len(key) != verkle.KeySize {
		return nil, fmt.Errorf("the length of the key must be %d, current is: %d", verkle.KeySize, len(key))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Get(key, nil)
}

// Commitment is the serialized root commitment.
func (t *SpellTree) Commitment() [32]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Commit().Bytes()
}

// Prove builds a multiproof of keys against the current root.
func (t *SpellTree) Prove(keys [][]byte) (*verkle.VerkleProof, verkle.StateDiff, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root.Commit()
	proof, _, _, _, err := verkle.MakeVerkleMultiProof(t.root, nil, keys, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate proof due to %w", err)
	}
	vProof, stateDiff, err := verkle.SerializeProof(proof)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize proof due to %w", err)
	}
	return vProof, stateDiff, nil
}

// Height is the last block height recorded with SetHeight.
func (t *SpellTree) Height() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

func (t *SpellTree) SetHeight(height uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Insert(heightKey, binary.BigEndian.AppendUint64(nil, height)); err != nil {
		return err
	}
	t.height = height
	return nil
}

func (t *SpellTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Length()
}

func (t *SpellTree) Close() error {
	return t.store.Close()
}
