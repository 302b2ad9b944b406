package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
	"github.com/RiemaLabs/charms-indexer/spell"
)

// Cardano transaction body keys and tags.
const (
	bodyInputs      = 0
	bodyOutputs     = 1
	outputDatum     = 2
	datumInline     = 1
	tagSet          = 258
	tagEncodedCBOR  = 24
	plutusChunkSize = 64
)

// CardanoTx is a Conway-era transaction: [body, witness set, is_valid,
// auxiliary data]. Earlier eras without is_valid are accepted too.
type CardanoTx struct {
	raw     []byte
	txid    charms.TxId
	inputs  []charms.UtxoId
	outputs []cbor.RawMessage
}

type cardanoInput struct {
	_     struct{} `cbor:",toarray"`
	TxId  []byte
	Index uint32
}

func CardanoTxFromHex(s string) (*CardanoTx, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	return ParseCardanoTx(raw)
}

func ParseCardanoTx(raw []byte) (*CardanoTx, error) {
	var parts []cbor.RawMessage
	if err := cborx.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	if len(parts) != 3 && len(parts) != 4 {
		return nil, fmt.Errorf("cardano transaction has %d parts", len(parts))
	}
	body := parts[0]
	var fields map[uint64]cbor.RawMessage
	if err := cborx.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("invalid transaction body: %w", err)
	}

	tx := &CardanoTx{raw: raw}
	h := blake2b.Sum256(body)
	slices.Reverse(h[:])
	tx.txid = charms.TxId(h)

	inputs, ok := fields[bodyInputs]
	if !ok {
		return nil, errors.New("transaction body has no inputs")
	}
	var tagged cbor.RawTag
	if err := cborx.Unmarshal(inputs, &tagged); err == nil {
		if tagged.Number != tagSet {
			return nil, fmt.Errorf("unexpected tag %d on inputs", tagged.Number)
		}
		inputs = tagged.Content
	}
	var ins []cardanoInput
	if err := cborx.Unmarshal(inputs, &ins); err != nil {
		return nil, fmt.Errorf("invalid inputs: %w", err)
	}
	for _, in := range ins {
		if len(in.TxId) != 32 {
			return nil, fmt.Errorf("input tx hash of %d bytes", len(in.TxId))
		}
		var id charms.TxId
		copy(id[:], in.TxId)
		slices.Reverse(id[:])
		tx.inputs = append(tx.inputs, charms.UtxoId{TxId: id, Index: in.Index})
	}

	outputs, ok := fields[bodyOutputs]
	if !ok {
		return nil, errors.New("transaction body has no outputs")
	}
	if err := cborx.Unmarshal(outputs, &tx.outputs); err != nil {
		return nil, fmt.Errorf("invalid outputs: %w", err)
	}
	return tx, nil
}

func (t *CardanoTx) sealed() {}

func (t *CardanoTx) Chain() Chain {
	return Cardano
}

func (t *CardanoTx) TxId() charms.TxId {
	return t.txid
}

func (t *CardanoTx) OutsLen() int {
	return len(t.outputs)
}

func (t *CardanoTx) Hex() string {
	return hex.EncodeToString(t.raw)
}

// Inputs are the spent outputs in body order.
func (t *CardanoTx) Inputs() []charms.UtxoId {
	return slices.Clone(t.inputs)
}

// ExtractAndVerify reads the spell from the inline datum of the last output,
// which does not count as one of the spell's outputs.
func (t *CardanoTx) ExtractAndVerify(v Verifier) (*spell.NormalizedSpell, error) {
	if len(t.inputs) == 0 || len(t.outputs) == 0 {
		return nil, ErrNoSpell
	}
	payload, err := inlineDatumBytes(t.outputs[len(t.outputs)-1])
	if err != nil {
		return nil, err
	}
	s, proof, err := spell.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode spell payload: %w", err)
	}
	if s.Tx.HasIns() {
		return nil, ErrUnboundSpell
	}
	if len(s.Tx.Outs) >= len(t.outputs) {
		return nil, ErrTooManyOuts
	}
	s.Tx.Ins = slices.Clone(t.inputs[:len(t.inputs)-1])
	if err := v.VerifySpell(s, proof); err != nil {
		return nil, err
	}
	return s, nil
}

// inlineDatumBytes returns the content of an inline datum that is a Plutus
// byte string.
func inlineDatumBytes(output cbor.RawMessage) ([]byte, error) {
	major, _, _, err := cborx.ReadHead(output)
	if err != nil || major != cborx.MajorMap {
		// Legacy array outputs carry at most a datum hash.
		return nil, ErrNoSpell
	}
	var fields map[uint64]cbor.RawMessage
	if err := cborx.Unmarshal(output, &fields); err != nil {
		return nil, err
	}
	opt, ok := fields[outputDatum]
	if !ok {
		return nil, ErrNoSpell
	}
	var datum []cbor.RawMessage
	if err := cborx.Unmarshal(opt, &datum); err != nil || len(datum) != 2 {
		return nil, fmt.Errorf("%w: malformed datum option", ErrNoSpell)
	}
	var kind uint64
	if err := cborx.Unmarshal(datum[0], &kind); err != nil || kind != datumInline {
		return nil, fmt.Errorf("%w: datum is not inline", ErrNoSpell)
	}
	var encoded cbor.RawTag
	if err := cborx.Unmarshal(datum[1], &encoded); err != nil || encoded.Number != tagEncodedCBOR {
		return nil, fmt.Errorf("%w: inline datum is not tagged CBOR", ErrNoSpell)
	}
	var plutus []byte
	if err := cborx.Unmarshal(encoded.Content, &plutus); err != nil {
		return nil, err
	}
	var payload []byte
	if err := cborx.Unmarshal(plutus, &payload); err != nil {
		return nil, fmt.Errorf("%w: inline datum is not a byte string", ErrNoSpell)
	}
	return payload, nil
}

// SpellDatum builds the inline datum option carrying payload as a Plutus
// byte string.
func SpellDatum(payload []byte) ([]byte, error) {
	plutus := plutusBytes(payload)
	return cborx.Marshal([]interface{}{
		uint64(datumInline),
		cbor.Tag{Number: tagEncodedCBOR, Content: plutus},
	})
}

// plutusBytes encodes b as a Plutus byte string: chunks of at most 64 bytes
// in an indefinite-length string when longer than one chunk.
func plutusBytes(b []byte) []byte {
	if len(b) <= plutusChunkSize {
		return append(cborx.AppendHead(nil, cborx.MajorBytes, uint64(len(b))), b...)
	}
	out := []byte{0x5f}
	for len(b) > 0 {
		n := min(len(b), plutusChunkSize)
		out = cborx.AppendHead(out, cborx.MajorBytes, uint64(n))
		out = append(out, b[:n]...)
		b = b[n:]
	}
	return append(out, 0xff)
}
