package getter

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/finality"
)

func plainTx(seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	return tx
}

func TestMemoryGetter(t *testing.T) {
	g := NewMemoryGetter(100)
	_, err := g.GetLatestBlockHeight()
	assert.ErrorIs(t, err, ErrNotFound)

	g.AddBlock(plainTx(1))
	b := g.AddBlock(plainTx(2), plainTx(3))

	height, err := g.GetLatestBlockHeight()
	require.NoError(t, err)
	assert.Equal(t, uint(101), height)

	hash, err := g.GetBlockHash(101)
	require.NoError(t, err)
	assert.Equal(t, b.BlockHash().String(), hash)
	_, err = g.GetBlock(99)
	assert.ErrorIs(t, err, ErrNotFound)

	txid := charms.TxId(plainTx(3).TxHash())
	tx, err := g.GetRawTransaction(txid)
	require.NoError(t, err)
	assert.Equal(t, plainTx(3).TxHash(), tx.TxHash())

	header, err := g.GetBlockHeader(hash)
	require.NoError(t, err)
	proof, err := g.GetTxOutProof(txid, hash)
	require.NoError(t, err)
	assert.NoError(t, finality.VerifyInclusion(header, proof, txid))

	_, err = g.GetTxOutProof(charms.TxId(plainTx(1).TxHash()), hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithRetries(t *testing.T) {
	prev := retryInterval
	retryInterval = time.Millisecond
	defer func() { retryInterval = prev }()

	calls := 0
	n, err := withRetries("value", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetries("value", func() (int, error) {
		calls++
		return 0, errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, maxRetries, calls)
}
