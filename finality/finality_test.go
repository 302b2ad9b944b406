package finality

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/charms"
)

func testBlock(n int) *wire.MsgBlock {
	block := &wire.MsgBlock{Header: wire.BlockHeader{Version: 4, Bits: 0x1d00ffff, Nonce: 7}}
	for i := 0; i < n; i++ {
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(i)}, uint32(i)), nil, nil))
		tx.AddTxOut(wire.NewTxOut(int64(1000+i), []byte{0x51}))
		block.AddTransaction(tx)
	}
	block.Header.MerkleRoot = blockchain.CalcMerkleRoot(btcutil.NewBlock(block).Transactions(), false)
	return block
}

func txid(block *wire.MsgBlock, i int) charms.TxId {
	return charms.TxId(block.Transactions[i].TxHash())
}

func TestVerifyInclusion(t *testing.T) {
	for _, n := range []int{1, 2, 5, 8} {
		block := testBlock(n)
		for i := 0; i < n; i++ {
			proof, err := Proof(block, txid(block, i))
			require.NoError(t, err)
			assert.NoError(t, VerifyInclusion(&block.Header, proof, txid(block, i)), "tx %d of %d", i, n)
		}
	}
}

func TestVerifyInclusionRejects(t *testing.T) {
	block := testBlock(5)
	proof, err := Proof(block, txid(block, 3))
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyInclusion(&block.Header, proof, txid(block, 2)), ErrNotIncluded)

	other := block.Header
	other.Nonce++
	assert.ErrorIs(t, VerifyInclusion(&other, proof, txid(block, 3)), ErrHeaderMismatch)

	mb, err := DecodeMerkleBlock(proof)
	require.NoError(t, err)
	mb.Hashes[0] = &chainhash.Hash{0xff}
	assert.Error(t, verifyDecoded(block, mb, txid(block, 3)))

	_, err = DecodeMerkleBlock(append(proof, 0))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Proof(block, charms.TxId{1})
	assert.ErrorIs(t, err, ErrNotIncluded)
}

func verifyDecoded(block *wire.MsgBlock, mb *wire.MsgMerkleBlock, id charms.TxId) error {
	root, matched, err := extractMatches(mb)
	if err != nil {
		return err
	}
	if root != block.Header.MerkleRoot {
		return ErrRootMismatch
	}
	for _, h := range matched {
		if h == chainhash.Hash(id) {
			return nil
		}
	}
	return ErrNotIncluded
}
