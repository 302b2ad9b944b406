package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/spell"
)

// spellMarker is the first push of a spell envelope.
var spellMarker = []byte("spell")

// controlBlockSize is the size of a control block for a single-leaf tree.
const controlBlockSize = txscript.ControlBlockBaseSize

type BitcoinTx struct {
	msg *wire.MsgTx
}

func NewBitcoinTx(msg *wire.MsgTx) *BitcoinTx {
	return &BitcoinTx{msg: msg}
}

// BitcoinTxFromHex decodes a serialized transaction with or without
// witnesses. All bytes must be consumed.
func BitcoinTxFromHex(s string) (*BitcoinTx, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	msg := &wire.MsgTx{}
	if err := msg.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return &BitcoinTx{msg: msg}, nil
}

func (t *BitcoinTx) sealed() {}

func (t *BitcoinTx) Chain() Chain {
	return Bitcoin
}

func (t *BitcoinTx) MsgTx() *wire.MsgTx {
	return t.msg
}

func (t *BitcoinTx) TxId() charms.TxId {
	return charms.TxId(t.msg.TxHash())
}

func (t *BitcoinTx) OutsLen() int {
	return len(t.msg.TxOut)
}

func (t *BitcoinTx) Hex() string {
	var buf bytes.Buffer
	if err := t.msg.Serialize(&buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf.Bytes())
}

// ExtractAndVerify reads the spell from the witness of the last input. That
// input carries the spell and is not one of the spell's inputs.
func (t *BitcoinTx) ExtractAndVerify(v Verifier) (*spell.NormalizedSpell, error) {
	ins := t.msg.TxIn
	if len(ins) == 0 {
		return nil, ErrNoSpell
	}
	s, proof, err := ParseSpellAndProof(ins[len(ins)-1])
	if err != nil {
		return nil, err
	}
	if s.Tx.HasIns() {
		return nil, ErrUnboundSpell
	}
	if len(s.Tx.Outs) > len(t.msg.TxOut) {
		return nil, ErrTooManyOuts
	}
	bound := make([]charms.UtxoId, 0, len(ins)-1)
	for _, in := range ins[:len(ins)-1] {
		bound = append(bound, charms.UtxoId{TxId: charms.TxId(in.PreviousOutPoint.Hash), Index: in.PreviousOutPoint.Index})
	}
	// The proof commits to the spell with the inputs of its host.
	s.Tx.Ins = bound
	if err := v.VerifySpell(s, proof); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSpellAndProof decodes the spell envelope from a single-leaf tapscript
// spend.
func ParseSpellAndProof(in *wire.TxIn) (*spell.NormalizedSpell, []byte, error) {
	script, err := leafScript(in.Witness)
	if err != nil {
		return nil, nil, err
	}
	payload, err := parseSpellScript(script)
	if err != nil {
		return nil, nil, err
	}
	s, proof, err := spell.DecodePayload(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode spell payload: %w", err)
	}
	return s, proof, nil
}

// leafScript returns the script of a script-path spend whose control block
// commits to a tree of exactly one leaf.
func leafScript(w wire.TxWitness) ([]byte, error) {
	n := len(w)
	if n >= 2 && len(w[n-1]) > 0 && w[n-1][0] == txscript.TaprootAnnexTag {
		n--
	}
	if n < 2 {
		return nil, ErrNoSpell
	}
	if len(w[n-1]) != controlBlockSize {
		return nil, fmt.Errorf("%w: control block of %d bytes", ErrNoSpell, len(w[n-1]))
	}
	return w[n-2], nil
}

func parseSpellScript(script []byte) ([]byte, error) {
	tok := txscript.MakeScriptTokenizer(0, script)
	if !tok.Next() || tok.Opcode() != txscript.OP_FALSE {
		return nil, fmt.Errorf("%w: script does not start with OP_FALSE", ErrNoSpell)
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_IF {
		return nil, fmt.Errorf("%w: missing OP_IF", ErrNoSpell)
	}
	if !tok.Next() || tok.Opcode() > txscript.OP_PUSHDATA4 || !bytes.Equal(tok.Data(), spellMarker) {
		return nil, fmt.Errorf("%w: missing spell marker", ErrNoSpell)
	}
	var payload []byte
	for tok.Next() {
		op := tok.Opcode()
		switch {
		case op == txscript.OP_ENDIF:
			return payload, nil
		case op <= txscript.OP_PUSHDATA4:
			payload = append(payload, tok.Data()...)
		default:
			return nil, fmt.Errorf("unexpected opcode %#x in spell envelope", op)
		}
	}
	if err := tok.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("spell envelope has no OP_ENDIF")
}

// SpellScript builds the tapscript revealing payload, spendable by the key.
func SpellScript(payload []byte, key *btcec.PublicKey) []byte {
	script := []byte{txscript.OP_FALSE, txscript.OP_IF}
	script = appendPush(script, spellMarker)
	for len(payload) > 0 {
		n := min(len(payload), txscript.MaxScriptElementSize)
		script = appendPush(script, payload[:n])
		payload = payload[n:]
	}
	script = append(script, txscript.OP_ENDIF)
	script = appendPush(script, schnorr.SerializePubKey(key))
	return append(script, txscript.OP_CHECKSIG)
}

// appendPush appends a minimal-length push of data. Elements never exceed
// MaxScriptElementSize, so OP_PUSHDATA4 is not needed.
func appendPush(script, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		return append(script, txscript.OP_0)
	case n < txscript.OP_PUSHDATA1:
		script = append(script, byte(n))
	case n <= 0xff:
		script = append(script, txscript.OP_PUSHDATA1, byte(n))
	default:
		script = append(script, txscript.OP_PUSHDATA2, byte(n), byte(n>>8))
	}
	return append(script, data...)
}

func spellTree(script []byte, internalKey *btcec.PublicKey) (*btcec.PublicKey, txscript.TapLeaf) {
	leaf := txscript.NewBaseTapLeaf(script)
	root := leaf.TapHash()
	return txscript.ComputeTaprootOutputKey(internalKey, root[:]), leaf
}

// SpellCommitScript is the output script committing to the spell script.
// Spending that output with SpellWitness reveals the spell.
func SpellCommitScript(script []byte, internalKey *btcec.PublicKey) ([]byte, error) {
	outputKey, _ := spellTree(script, internalKey)
	return txscript.PayToTaprootScript(outputKey)
}

// SpellWitness is the witness spending the commit output through the spell
// script.
func SpellWitness(sig, script []byte, internalKey *btcec.PublicKey) (wire.TxWitness, error) {
	outputKey, leaf := spellTree(script, internalKey)
	cb := txscript.ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: outputKey.SerializeCompressed()[0] == 0x03,
		LeafVersion:     leaf.LeafVersion,
	}
	raw, err := cb.ToBytes()
	if err != nil {
		return nil, err
	}
	return wire.TxWitness{sig, script, raw}, nil
}
