package charms

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"

	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

// Charms is the state attached to one UTXO, keyed by app.
type Charms map[App]Data

// Apps returns the keys in canonical order.
func (c Charms) Apps() []App {
	apps := make([]App, 0, len(c))
	for app := range c {
		apps = append(apps, app)
	}
	slices.SortFunc(apps, App.Compare)
	return apps
}

func (c Charms) MarshalCBOR() ([]byte, error) {
	w := cborx.NewMapWriter(len(c))
	for _, app := range c.Apps() {
		w.Entry(app, c[app])
	}
	return w.Bytes()
}

func (c *Charms) UnmarshalCBOR(data []byte) error {
	out := Charms{}
	err := cborx.ReadMap(data, func(k, v cbor.RawMessage) error {
		var app App
		if err := app.UnmarshalCBOR(k); err != nil {
			return err
		}
		if _, ok := out[app]; ok {
			return fmt.Errorf("duplicate app %s", app)
		}
		var d Data
		if err := d.UnmarshalCBOR(v); err != nil {
			return err
		}
		out[app] = d
		return nil
	})
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// UtxoCharms maps spent or referenced UTXOs to their charms.
type UtxoCharms map[UtxoId]Charms

func (u UtxoCharms) Keys() []UtxoId {
	keys := make([]UtxoId, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, UtxoId.Compare)
	return keys
}

func (u UtxoCharms) MarshalCBOR() ([]byte, error) {
	w := cborx.NewMapWriter(len(u))
	for _, k := range u.Keys() {
		w.Entry(k, u[k])
	}
	return w.Bytes()
}

func (u *UtxoCharms) UnmarshalCBOR(data []byte) error {
	out := UtxoCharms{}
	err := cborx.ReadMap(data, func(k, v cbor.RawMessage) error {
		var id UtxoId
		if err := id.UnmarshalCBOR(k); err != nil {
			return err
		}
		if _, ok := out[id]; ok {
			return fmt.Errorf("duplicate utxo %s", id)
		}
		var c Charms
		if err := c.UnmarshalCBOR(v); err != nil {
			return err
		}
		out[id] = c
		return nil
	})
	if err != nil {
		return err
	}
	*u = out
	return nil
}

// Transaction is the resolved form of a spell's transaction: every input,
// reference and output carries its actual charms.
type Transaction struct {
	Ins  UtxoCharms `cbor:"ins" json:"ins"`
	Refs UtxoCharms `cbor:"refs" json:"refs"`
	Outs []Charms   `cbor:"outs" json:"outs"`
}

func (tx *Transaction) Marshal() ([]byte, error) {
	return cborx.Marshal(tx)
}

// IsSimpleTransfer reports whether app's state is conserved by tx: token
// amounts balance for fungible tokens and the multiset of states is preserved
// for NFTs. Other tags never qualify.
func IsSimpleTransfer(app App, tx *Transaction) bool {
	switch app.Tag {
	case TOKEN:
		return TokenAmountsBalanced(app, tx)
	case NFT:
		return NFTStatePreserved(app, tx)
	}
	return false
}

func TokenAmountsBalanced(app App, tx *Transaction) bool {
	in, ok := sumTokenAmount(app, inputCharms(tx))
	if !ok {
		return false
	}
	out, ok := sumTokenAmount(app, tx.Outs)
	if !ok {
		return false
	}
	return in.Eq(out)
}

func NFTStatePreserved(app App, tx *Transaction) bool {
	states := make(map[string]int)
	for _, c := range inputCharms(tx) {
		if d, ok := c[app]; ok {
			states[string(d.Bytes())]++
		}
	}
	for _, c := range tx.Outs {
		if d, ok := c[app]; ok {
			states[string(d.Bytes())]--
		}
	}
	for _, n := range states {
		if n != 0 {
			return false
		}
	}
	return true
}

func inputCharms(tx *Transaction) []Charms {
	out := make([]Charms, 0, len(tx.Ins))
	for _, k := range tx.Ins.Keys() {
		out = append(out, tx.Ins[k])
	}
	return out
}

// sumTokenAmount adds up the amounts held for app. Each amount must decode as
// an unsigned 64-bit integer.
func sumTokenAmount(app App, cs []Charms) (*uint256.Int, bool) {
	total := new(uint256.Int)
	for _, c := range cs {
		d, ok := c[app]
		if !ok {
			continue
		}
		var amount uint64
		if err := d.Decode(&amount); err != nil {
			return nil, false
		}
		total.Add(total, uint256.NewInt(amount))
	}
	return total, true
}
