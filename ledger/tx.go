// Package ledger extracts spells from Bitcoin and Cardano transactions.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/spell"
)

type Chain string

const (
	Bitcoin Chain = "bitcoin"
	Cardano Chain = "cardano"
)

func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(s)) {
	case Bitcoin:
		return Bitcoin, nil
	case Cardano:
		return Cardano, nil
	}
	return "", fmt.Errorf("unknown chain %q", s)
}

var (
	ErrNoSpell       = errors.New("transaction carries no spell")
	ErrUnboundSpell  = errors.New("embedded spell must not bind its inputs")
	ErrTooManyOuts   = errors.New("spell has more outputs than its transaction")
	ErrUnknownFormat = errors.New("not a bitcoin or cardano transaction")
)

// Verifier checks that a proof attests to a spell.
type Verifier interface {
	VerifySpell(s *spell.NormalizedSpell, proof []byte) error
}

// Tx is a transaction of one of the supported ledgers. The set of
// implementations is closed.
type Tx interface {
	Chain() Chain
	TxId() charms.TxId
	// OutsLen is the number of outputs of the transaction.
	OutsLen() int
	Hex() string
	// ExtractAndVerify returns the spell embedded in the transaction with
	// its inputs bound, once its proof checks out.
	ExtractAndVerify(v Verifier) (*spell.NormalizedSpell, error)

	sealed()
}

// FromHex decodes a transaction, trying Bitcoin first and then Cardano.
func FromHex(s string) (Tx, error) {
	if tx, err := BitcoinTxFromHex(s); err == nil {
		return tx, nil
	}
	if tx, err := CardanoTxFromHex(s); err == nil {
		return tx, nil
	}
	return nil, ErrUnknownFormat
}

// ParseTx decodes a transaction of a known chain.
func ParseTx(chain Chain, s string) (Tx, error) {
	switch chain {
	case Bitcoin:
		return BitcoinTxFromHex(s)
	case Cardano:
		return CardanoTxFromHex(s)
	}
	return nil, fmt.Errorf("unknown chain %q", chain)
}

// CacheKey identifies a transaction including its witnesses, which the txid
// of either ledger does not cover.
func CacheKey(tx Tx) [32]byte {
	raw, err := hex.DecodeString(tx.Hex())
	if err != nil {
		return sha256.Sum256([]byte(tx.Hex()))
	}
	return sha256.Sum256(raw)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}
