package getter

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/RiemaLabs/charms-indexer/charms"
)

type BitcoinGetter struct {
	client *rpcclient.Client
}

func NewGetter(host, user, pass string) (*BitcoinGetter, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true, // Bitcoin core only supports HTTP POST mode
		DisableTLS:   true, // Bitcoin core does not provide TLS by default
	}
	// Notifications are not supported in HTTP POST mode.
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	return &BitcoinGetter{client: client}, nil
}

func (r *BitcoinGetter) Shutdown() {
	r.client.Shutdown()
}

func (r *BitcoinGetter) GetLatestBlockHeight() (uint, error) {
	return withRetries("latest height", func() (uint, error) {
		count, err := r.client.GetBlockCount()
		return uint(count), err
	})
}

func (r *BitcoinGetter) GetBlockHash(blockHeight uint) (string, error) {
	hash, err := withRetries(fmt.Sprintf("block hash at height %d", blockHeight), func() (*chainhash.Hash, error) {
		return r.client.GetBlockHash(int64(blockHeight))
	})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (r *BitcoinGetter) GetBlock(blockHeight uint) (*wire.MsgBlock, error) {
	hash, err := r.GetBlockHash(blockHeight)
	if err != nil {
		return nil, err
	}
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, err
	}
	return withRetries(fmt.Sprintf("block at height %d", blockHeight), func() (*wire.MsgBlock, error) {
		return r.client.GetBlock(h)
	})
}

func (r *BitcoinGetter) GetBlockHeader(blockHash string) (*wire.BlockHeader, error) {
	h, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return nil, err
	}
	return withRetries("block header "+blockHash, func() (*wire.BlockHeader, error) {
		return r.client.GetBlockHeader(h)
	})
}

func (r *BitcoinGetter) GetRawTransaction(txid charms.TxId) (*wire.MsgTx, error) {
	h := chainhash.Hash(txid)
	tx, err := r.client.GetRawTransaction(&h)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txid)
		}
		return nil, err
	}
	return tx.MsgTx(), nil
}

func (r *BitcoinGetter) GetTxOutProof(txid charms.TxId, blockHash string) ([]byte, error) {
	params := []json.RawMessage{}
	ids, err := json.Marshal([]string{txid.String()})
	if err != nil {
		return nil, err
	}
	params = append(params, ids)
	if blockHash != "" {
		hash, err := json.Marshal(blockHash)
		if err != nil {
			return nil, err
		}
		params = append(params, hash)
	}
	res, err := r.client.RawRequest("gettxoutproof", params)
	if err != nil {
		return nil, err
	}
	var proofHex string
	if err := json.Unmarshal(res, &proofHex); err != nil {
		return nil, fmt.Errorf("error during decoding gettxoutproof result: %w", err)
	}
	return hex.DecodeString(proofHex)
}
