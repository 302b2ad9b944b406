// Package spelltest builds proven spells and their host transactions for
// tests.
package spelltest

import (
	"crypto/sha256"
	"slices"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/proof"
	"github.com/RiemaLabs/charms-indexer/spell"
)

var (
	once     sync.Once
	keys     *proof.Keys
	registry *proof.Registry
	setupErr error
)

// Setup returns a registry and prover for the current version. The Groth16
// setup runs once per test binary.
func Setup(t testing.TB) (*proof.Registry, *proof.Prover) {
	t.Helper()
	once.Do(func() {
		keys, setupErr = proof.Setup(spell.CurrentVersion)
		if setupErr != nil {
			return
		}
		var raw []byte
		raw, setupErr = keys.VerifyingKeyBytes()
		if setupErr != nil {
			return
		}
		registry, setupErr = proof.NewRegistry(map[uint32][]byte{spell.CurrentVersion: raw})
	})
	require.NoError(t, setupErr)
	return registry, keys.Prover()
}

// VerifyingKey is the serialized verifying key used by Setup.
func VerifyingKey(t testing.TB) []byte {
	Setup(t)
	raw, err := keys.VerifyingKeyBytes()
	require.NoError(t, err)
	return raw
}

// Payload proves s, whose inputs must be those of its host transaction, and
// returns the embedded payload with the inputs cleared.
func Payload(t testing.TB, s *spell.NormalizedSpell) []byte {
	t.Helper()
	require.True(t, s.Tx.HasIns(), "spell inputs must be bound before proving")
	reg, prover := Setup(t)
	vk, err := reg.SpellVK(s.Version)
	require.NoError(t, err)
	pv, err := reg.PublicValues(s)
	require.NoError(t, err)
	p, err := prover.Prove(vk, pv)
	require.NoError(t, err)
	embedded := s.Clone()
	embedded.Tx.Ins = nil
	payload, err := spell.EncodePayload(embedded, p)
	require.NoError(t, err)
	return payload
}

// Hash is a deterministic txid for tests.
func Hash(seed string) charms.TxId {
	return charms.TxId(sha256.Sum256([]byte(seed)))
}

// BitcoinTx spends ins and, when payload is not nil, a commit output whose
// witness reveals payload.
func BitcoinTx(t testing.TB, ins []charms.UtxoId, outs int, payload []byte) *ledger.BitcoinTx {
	t.Helper()
	msg := wire.NewMsgTx(2)
	for _, u := range ins {
		op := wire.NewOutPoint((*chainhash.Hash)(&u.TxId), u.Index)
		msg.AddTxIn(wire.NewTxIn(op, nil, nil))
	}
	if payload != nil {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		script := ledger.SpellScript(payload, priv.PubKey())
		witness, err := ledger.SpellWitness(make([]byte, 64), script, priv.PubKey())
		require.NoError(t, err)
		commit := Hash("commit:" + string(payload[:min(len(payload), 16)]))
		in := wire.NewTxIn(wire.NewOutPoint((*chainhash.Hash)(&commit), 0), nil, witness)
		msg.AddTxIn(in)
	}
	for i := 0; i < outs; i++ {
		pk, err := txscript.NewScriptBuilder().AddOp(txscript.OP_1).AddData(make([]byte, 32)).Script()
		require.NoError(t, err)
		msg.AddTxOut(wire.NewTxOut(int64(1000+i), pk))
	}
	return ledger.NewBitcoinTx(msg)
}

// CardanoTx spends ins and has outs plain outputs, followed by an output
// carrying payload in its inline datum when payload is not nil.
func CardanoTx(t testing.TB, ins []charms.UtxoId, outs int, payload []byte) *ledger.CardanoTx {
	t.Helper()
	inputs := make([]interface{}, 0, len(ins))
	for _, u := range ins {
		h := slices.Clone(u.TxId[:])
		slices.Reverse(h)
		inputs = append(inputs, []interface{}{h, u.Index})
	}
	outputs := make([]interface{}, 0, outs+1)
	for i := 0; i < outs; i++ {
		outputs = append(outputs, map[uint64]interface{}{0: []byte{0x61, byte(i)}, 1: uint64(2_000_000 + i)})
	}
	if payload != nil {
		datum, err := ledger.SpellDatum(payload)
		require.NoError(t, err)
		outputs = append(outputs, map[uint64]interface{}{0: []byte{0x61, 0xff}, 1: uint64(1_000_000), 2: cbor.RawMessage(datum)})
	}
	body, err := cborx.MarshalCanonical(map[uint64]interface{}{
		0: cbor.Tag{Number: 258, Content: inputs},
		1: outputs,
		2: uint64(170_000),
	})
	require.NoError(t, err)
	raw, err := cborx.MarshalCanonical([]interface{}{cbor.RawMessage(body), map[uint64]interface{}{}, true, nil})
	require.NoError(t, err)
	tx, err := ledger.ParseCardanoTx(raw)
	require.NoError(t, err)
	return tx
}
