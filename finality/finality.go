// Package finality checks that a Bitcoin transaction is included in a block,
// given a merkle block as returned by gettxoutproof.
package finality

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/RiemaLabs/charms-indexer/charms"
)

var (
	ErrHeaderMismatch = errors.New("merkle block is for another block")
	ErrRootMismatch   = errors.New("merkle root does not match the block header")
	ErrNotIncluded    = errors.New("transaction is not among the matched leaves")
	ErrMalformed      = errors.New("malformed partial merkle tree")
)

// DecodeMerkleBlock parses a serialized merkle block.
func DecodeMerkleBlock(raw []byte) (*wire.MsgMerkleBlock, error) {
	mb := &wire.MsgMerkleBlock{}
	r := bytes.NewReader(raw)
	if err := mb.BtcDecode(r, wire.ProtocolVersion, wire.BaseEncoding); err != nil {
		return nil, fmt.Errorf("error during decoding merkle block: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return mb, nil
}

// VerifyInclusion requires proof to be a merkle block of header whose partial
// tree commits to txid.
func VerifyInclusion(header *wire.BlockHeader, proof []byte, txid charms.TxId) error {
	mb, err := DecodeMerkleBlock(proof)
	if err != nil {
		return err
	}
	if mb.Header.BlockHash() != header.BlockHash() {
		return ErrHeaderMismatch
	}
	root, matched, err := extractMatches(mb)
	if err != nil {
		return err
	}
	if root != header.MerkleRoot {
		return ErrRootMismatch
	}
	want := chainhash.Hash(txid)
	for _, h := range matched {
		if h == want {
			return nil
		}
	}
	return ErrNotIncluded
}

// Proof builds the merkle block of block proving txid.
func Proof(block *wire.MsgBlock, txid charms.TxId) ([]byte, error) {
	h := chainhash.Hash(txid)
	filter := bloom.NewFilter(1, 0, 0.000001, wire.BloomUpdateNone)
	filter.AddHash(&h)
	mb, matched := bloom.NewMerkleBlock(btcutil.NewBlock(block), filter)
	found := false
	for _, m := range matched {
		found = found || *m == h
	}
	if !found {
		return nil, ErrNotIncluded
	}
	var buf bytes.Buffer
	if err := mb.BtcEncode(&buf, wire.ProtocolVersion, wire.BaseEncoding); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type partialTree struct {
	total    uint32
	hashes   []*chainhash.Hash
	flags    []byte
	bitsUsed int
	hashUsed int
	matched  []chainhash.Hash
}

func (t *partialTree) width(height uint) uint32 {
	return (t.total + (1 << height) - 1) >> height
}

func (t *partialTree) bit() (bool, error) {
	if t.bitsUsed >= len(t.flags)*8 {
		return false, fmt.Errorf("%w: ran out of flag bits", ErrMalformed)
	}
	b := t.flags[t.bitsUsed/8]>>(t.bitsUsed%8)&1 == 1
	t.bitsUsed++
	return b, nil
}

func (t *partialTree) hash() (chainhash.Hash, error) {
	if t.hashUsed >= len(t.hashes) {
		return chainhash.Hash{}, fmt.Errorf("%w: ran out of hashes", ErrMalformed)
	}
	h := *t.hashes[t.hashUsed]
	t.hashUsed++
	return h, nil
}

func (t *partialTree) traverse(height uint, pos uint32) (chainhash.Hash, error) {
	parentOfMatch, err := t.bit()
	if err != nil {
		return chainhash.Hash{}, err
	}
	if height == 0 || !parentOfMatch {
		h, err := t.hash()
		if err != nil {
			return chainhash.Hash{}, err
		}
		if height == 0 && parentOfMatch {
			t.matched = append(t.matched, h)
		}
		return h, nil
	}
	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < t.width(height-1) {
		if right, err = t.traverse(height-1, pos*2+1); err != nil {
			return chainhash.Hash{}, err
		}
		if right == left {
			return chainhash.Hash{}, fmt.Errorf("%w: duplicated subtree", ErrMalformed)
		}
	}
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:]), nil
}

func extractMatches(mb *wire.MsgMerkleBlock) (chainhash.Hash, []chainhash.Hash, error) {
	if mb.Transactions == 0 {
		return chainhash.Hash{}, nil, fmt.Errorf("%w: no transactions", ErrMalformed)
	}
	if uint64(len(mb.Hashes)) > uint64(mb.Transactions) {
		return chainhash.Hash{}, nil, fmt.Errorf("%w: more hashes than transactions", ErrMalformed)
	}
	t := &partialTree{total: mb.Transactions, hashes: mb.Hashes, flags: mb.Flags}
	var height uint
	for t.width(height) > 1 {
		height++
	}
	root, err := t.traverse(height, 0)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	if t.hashUsed != len(t.hashes) || (t.bitsUsed+7)/8 != len(t.flags) {
		return chainhash.Hash{}, nil, fmt.Errorf("%w: unused proof data", ErrMalformed)
	}
	return root, t.matched, nil
}
