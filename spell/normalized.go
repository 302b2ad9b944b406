package spell

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

// Protocol versions.
const (
	V0 uint32 = iota
	V1
	V2
	V3
)

const CurrentVersion = V3

// NormalizedCharms maps an index into the spell's app table to the app's
// state for one output.
type NormalizedCharms map[uint64]charms.Data

func (n NormalizedCharms) Keys() []uint64 {
	keys := make([]uint64, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (n NormalizedCharms) MarshalCBOR() ([]byte, error) {
	w := cborx.NewMapWriter(len(n))
	for _, k := range n.Keys() {
		w.Entry(k, n[k])
	}
	return w.Bytes()
}

func (n *NormalizedCharms) UnmarshalCBOR(data []byte) error {
	out := NormalizedCharms{}
	err := cborx.ReadMap(data, func(k, v cbor.RawMessage) error {
		var idx uint64
		if err := cborx.Unmarshal(k, &idx); err != nil {
			return err
		}
		if _, ok := out[idx]; ok {
			return fmt.Errorf("duplicate app index %d", idx)
		}
		var d charms.Data
		if err := d.UnmarshalCBOR(v); err != nil {
			return err
		}
		out[idx] = d
		return nil
	})
	if err != nil {
		return err
	}
	*n = out
	return nil
}

// BeamedOuts maps an output index to the hash of the destination UTXO the
// output's charms are beamed to.
type BeamedOuts map[uint64]charms.B32

func (b BeamedOuts) Keys() []uint64 {
	keys := make([]uint64, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (b BeamedOuts) MarshalCBOR() ([]byte, error) {
	w := cborx.NewMapWriter(len(b))
	for _, k := range b.Keys() {
		w.Entry(k, b[k])
	}
	return w.Bytes()
}

func (b *BeamedOuts) UnmarshalCBOR(data []byte) error {
	out := BeamedOuts{}
	err := cborx.ReadMap(data, func(k, v cbor.RawMessage) error {
		var idx uint64
		if err := cborx.Unmarshal(k, &idx); err != nil {
			return err
		}
		if _, ok := out[idx]; ok {
			return fmt.Errorf("duplicate beamed output %d", idx)
		}
		var dest charms.B32
		if err := dest.UnmarshalCBOR(v); err != nil {
			return err
		}
		out[idx] = dest
		return nil
	})
	if err != nil {
		return err
	}
	*b = out
	return nil
}

// AppInputs maps apps to data. Its sorted key order is the index space of
// NormalizedCharms.
type AppInputs map[charms.App]charms.Data

func (a AppInputs) Apps() []charms.App {
	apps := make([]charms.App, 0, len(a))
	for app := range a {
		apps = append(apps, app)
	}
	slices.SortFunc(apps, charms.App.Compare)
	return apps
}

func (a AppInputs) MarshalCBOR() ([]byte, error) {
	w := cborx.NewMapWriter(len(a))
	for _, app := range a.Apps() {
		w.Entry(app, a[app])
	}
	return w.Bytes()
}

func (a *AppInputs) UnmarshalCBOR(data []byte) error {
	var c charms.Charms
	if err := c.UnmarshalCBOR(data); err != nil {
		return err
	}
	*a = AppInputs(c)
	return nil
}

// NormalizedTransaction is the committed, index-based transaction of a spell.
//
// A nil Ins means the inputs are not bound yet, which differs from a bound
// empty list. A nil BeamedOuts is omitted from the encoding.
type NormalizedTransaction struct {
	Ins        []charms.UtxoId
	Refs       []charms.UtxoId
	Outs       []NormalizedCharms
	BeamedOuts BeamedOuts
}

func (tx *NormalizedTransaction) HasIns() bool {
	return tx.Ins != nil
}

type txWire struct {
	Ins        *[]charms.UtxoId   `cbor:"ins,omitempty"`
	Refs       []charms.UtxoId    `cbor:"refs"`
	Outs       []NormalizedCharms `cbor:"outs"`
	BeamedOuts *BeamedOuts        `cbor:"beamed_outs,omitempty"`
}

func (tx NormalizedTransaction) MarshalCBOR() ([]byte, error) {
	w := txWire{
		Refs: sortedUtxoSet(tx.Refs),
		Outs: tx.Outs,
	}
	if w.Refs == nil {
		w.Refs = []charms.UtxoId{}
	}
	if w.Outs == nil {
		w.Outs = []NormalizedCharms{}
	}
	if tx.Ins != nil {
		ins := tx.Ins
		w.Ins = &ins
	}
	if tx.BeamedOuts != nil {
		beamed := tx.BeamedOuts
		w.BeamedOuts = &beamed
	}
	return cborx.Marshal(w)
}

func (tx *NormalizedTransaction) UnmarshalCBOR(data []byte) error {
	var w txWire
	if err := cborx.Unmarshal(data, &w); err != nil {
		return err
	}
	out := NormalizedTransaction{
		Refs: sortedUtxoSet(w.Refs),
		Outs: w.Outs,
	}
	if w.Ins != nil {
		out.Ins = make([]charms.UtxoId, len(*w.Ins))
		copy(out.Ins, *w.Ins)
	}
	if w.BeamedOuts != nil {
		out.BeamedOuts = *w.BeamedOuts
		if out.BeamedOuts == nil {
			out.BeamedOuts = BeamedOuts{}
		}
	}
	*tx = out
	return nil
}

// NormalizedSpell is the canonical form of a spell committed to by its proof.
type NormalizedSpell struct {
	Version         uint32                `cbor:"version"`
	Tx              NormalizedTransaction `cbor:"tx"`
	AppPublicInputs AppInputs             `cbor:"app_public_inputs"`
}

// Apps returns the app table in index order.
func (s *NormalizedSpell) Apps() []charms.App {
	return s.AppPublicInputs.Apps()
}

func (s *NormalizedSpell) Marshal() ([]byte, error) {
	return cborx.Marshal(s)
}

func UnmarshalSpell(data []byte) (*NormalizedSpell, error) {
	var s NormalizedSpell
	if err := cborx.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.AppPublicInputs == nil {
		s.AppPublicInputs = AppInputs{}
	}
	return &s, nil
}

// Clone returns a deep copy. Data values are immutable and shared.
func (s *NormalizedSpell) Clone() *NormalizedSpell {
	c := &NormalizedSpell{
		Version:         s.Version,
		AppPublicInputs: make(AppInputs, len(s.AppPublicInputs)),
	}
	for k, v := range s.AppPublicInputs {
		c.AppPublicInputs[k] = v
	}
	if s.Tx.Ins != nil {
		c.Tx.Ins = slices.Clone(s.Tx.Ins)
		if c.Tx.Ins == nil {
			c.Tx.Ins = []charms.UtxoId{}
		}
	}
	c.Tx.Refs = slices.Clone(s.Tx.Refs)
	if s.Tx.Outs != nil {
		c.Tx.Outs = make([]NormalizedCharms, len(s.Tx.Outs))
		for i, n := range s.Tx.Outs {
			m := make(NormalizedCharms, len(n))
			for k, v := range n {
				m[k] = v
			}
			c.Tx.Outs[i] = m
		}
	}
	if s.Tx.BeamedOuts != nil {
		c.Tx.BeamedOuts = make(BeamedOuts, len(s.Tx.BeamedOuts))
		for k, v := range s.Tx.BeamedOuts {
			c.Tx.BeamedOuts[k] = v
		}
	}
	return c
}

// Payload is the (spell, proof) pair embedded in a transaction.
type Payload struct {
	_     struct{} `cbor:",toarray"`
	Spell NormalizedSpell
	Proof []byte
}

func EncodePayload(s *NormalizedSpell, proof []byte) ([]byte, error) {
	return cborx.Marshal(Payload{Spell: *s, Proof: proof})
}

func DecodePayload(data []byte) (*NormalizedSpell, []byte, error) {
	var p Payload
	if err := cborx.Unmarshal(data, &p); err != nil {
		return nil, nil, err
	}
	if p.Spell.AppPublicInputs == nil {
		p.Spell.AppPublicInputs = AppInputs{}
	}
	return &p.Spell, p.Proof, nil
}

// PrevSpell is what the resolver learned about one prerequisite transaction.
// Spell is nil when the transaction carries no verified spell.
type PrevSpell struct {
	Spell   *NormalizedSpell
	OutsLen int
}

// PrevSpells maps prerequisite transactions to their resolved spells.
type PrevSpells map[charms.TxId]PrevSpell

// BeamHints maps a beamed-in input to the source UTXO whose charms it
// receives. Hints are not committed; they are checked against prior spells.
type BeamHints map[charms.UtxoId]charms.UtxoId

func (h BeamHints) Keys() []charms.UtxoId {
	keys := make([]charms.UtxoId, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, charms.UtxoId.Compare)
	return keys
}

func sortedUtxoSet(ids []charms.UtxoId) []charms.UtxoId {
	if ids == nil {
		return nil
	}
	out := slices.Clone(ids)
	slices.SortFunc(out, charms.UtxoId.Compare)
	return slices.CompactFunc(out, func(a, b charms.UtxoId) bool { return a == b })
}
