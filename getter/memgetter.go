package getter

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/finality"
)

// MemoryGetter serves a chain held in memory. Blocks are numbered from the
// height of the first one added.
type MemoryGetter struct {
	mu     sync.RWMutex
	start  uint
	blocks []*wire.MsgBlock
	txs    map[charms.TxId]*wire.MsgTx
	where  map[charms.TxId]int
}

func NewMemoryGetter(startHeight uint) *MemoryGetter {
	return &MemoryGetter{
		start: startHeight,
		txs:   make(map[charms.TxId]*wire.MsgTx),
		where: make(map[charms.TxId]int),
	}
}

// AddBlock appends a block holding txs on top of the current tip.
func (g *MemoryGetter) AddBlock(txs ...*wire.MsgTx) *wire.MsgBlock {
	g.mu.Lock()
	defer g.mu.Unlock()
	block := &wire.MsgBlock{Header: wire.BlockHeader{Version: 4, Nonce: uint32(len(g.blocks))}}
	if n := len(g.blocks); n > 0 {
		block.Header.PrevBlock = g.blocks[n-1].BlockHash()
	}
	for _, tx := range txs {
		block.AddTransaction(tx)
		id := charms.TxId(tx.TxHash())
		g.txs[id] = tx
		g.where[id] = len(g.blocks)
	}
	block.Header.MerkleRoot = blockchain.CalcMerkleRoot(btcutil.NewBlock(block).Transactions(), false)
	g.blocks = append(g.blocks, block)
	return block
}

func (g *MemoryGetter) block(blockHeight uint) (*wire.MsgBlock, error) {
	if blockHeight < g.start || blockHeight >= g.start+uint(len(g.blocks)) {
		return nil, fmt.Errorf("%w: block at height %d", ErrNotFound, blockHeight)
	}
	return g.blocks[blockHeight-g.start], nil
}

func (g *MemoryGetter) GetLatestBlockHeight() (uint, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.blocks) == 0 {
		return 0, fmt.Errorf("%w: empty chain", ErrNotFound)
	}
	return g.start + uint(len(g.blocks)) - 1, nil
}

func (g *MemoryGetter) GetBlockHash(blockHeight uint) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, err := g.block(blockHeight)
	if err != nil {
		return "", err
	}
	return b.BlockHash().String(), nil
}

func (g *MemoryGetter) GetBlock(blockHeight uint) (*wire.MsgBlock, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.block(blockHeight)
}

func (g *MemoryGetter) GetBlockHeader(blockHash string) (*wire.BlockHeader, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, b := range g.blocks {
		if b.BlockHash().String() == blockHash {
			h := b.Header
			return &h, nil
		}
	}
	return nil, fmt.Errorf("%w: block %s", ErrNotFound, blockHash)
}

func (g *MemoryGetter) GetRawTransaction(txid charms.TxId) (*wire.MsgTx, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tx, ok := g.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txid)
	}
	return tx, nil
}

func (g *MemoryGetter) GetTxOutProof(txid charms.TxId, blockHash string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.where[txid]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txid)
	}
	block := g.blocks[i]
	if blockHash != "" && block.BlockHash().String() != blockHash {
		return nil, fmt.Errorf("%w: transaction %s in block %s", ErrNotFound, txid, blockHash)
	}
	return finality.Proof(block, txid)
}
