// Package getter reads blocks, transactions and inclusion proofs from a
// Bitcoin node.
package getter

import (
	"errors"

	"github.com/btcsuite/btcd/wire"

	"github.com/RiemaLabs/charms-indexer/charms"
)

var ErrNotFound = errors.New("not found")

type TxGetter interface {
	GetLatestBlockHeight() (uint, error)
	GetBlockHash(blockHeight uint) (string, error)
	GetBlock(blockHeight uint) (*wire.MsgBlock, error)
	GetBlockHeader(blockHash string) (*wire.BlockHeader, error)
	GetRawTransaction(txid charms.TxId) (*wire.MsgTx, error)
	// GetTxOutProof returns the serialized merkle block proving txid is in
	// the block with blockHash.
	GetTxOutProof(txid charms.TxId, blockHash string) ([]byte, error)
}
