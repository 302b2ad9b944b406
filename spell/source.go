package spell

import (
	"fmt"
	"slices"

	"github.com/RiemaLabs/charms-indexer/charms"
)

// KeyedCharms is the state of one UTXO keyed by the spell's app names.
type KeyedCharms map[string]charms.Data

type Input struct {
	UtxoId     *charms.UtxoId `json:"utxo_id,omitempty" yaml:"utxo_id,omitempty"`
	Charms     KeyedCharms    `json:"charms,omitempty" yaml:"charms,omitempty"`
	BeamedFrom *charms.UtxoId `json:"beamed_from,omitempty" yaml:"beamed_from,omitempty"`
}

type Output struct {
	Address string      `json:"address,omitempty" yaml:"address,omitempty"`
	Amount  *uint64     `json:"amount,omitempty" yaml:"amount,omitempty"`
	Sats    *uint64     `json:"sats,omitempty" yaml:"sats,omitempty"`
	Charms  KeyedCharms `json:"charms,omitempty" yaml:"charms,omitempty"`
	BeamTo  *charms.B32 `json:"beam_to,omitempty" yaml:"beam_to,omitempty"`
}

// Value returns the output amount in the ledger's base unit. "sats" is
// accepted as an alias of "amount".
func (o *Output) Value() (uint64, bool) {
	switch {
	case o.Amount != nil:
		return *o.Amount, true
	case o.Sats != nil:
		return *o.Sats, true
	}
	return 0, false
}

// Spell is the human-authored form: apps and charms are referenced by name.
type Spell struct {
	Version       uint32                 `json:"version" yaml:"version"`
	Apps          map[string]charms.App  `json:"apps" yaml:"apps"`
	PublicInputs  map[string]charms.Data `json:"public_inputs,omitempty" yaml:"public_inputs,omitempty"`
	PrivateInputs map[string]charms.Data `json:"private_inputs,omitempty" yaml:"private_inputs,omitempty"`
	Ins           []Input                `json:"ins" yaml:"ins"`
	Refs          []Input                `json:"refs,omitempty" yaml:"refs,omitempty"`
	Outs          []Output               `json:"outs" yaml:"outs"`
}

// Normalize converts the spell to its canonical form. It also returns the
// private inputs per app and the beam hints of beamed-in inputs, neither of
// which is part of the committed spell.
func (s *Spell) Normalize() (*NormalizedSpell, AppInputs, BeamHints, error) {
	keyed := make(map[charms.App]string, len(s.Apps))
	for key, app := range s.Apps {
		if other, ok := keyed[app]; ok {
			return nil, nil, nil, newError(DUPLICATE_APPS, "app %s is declared as both %q and %q", app, other, key)
		}
		keyed[app] = key
	}

	public := make(AppInputs, len(s.Apps))
	private := make(AppInputs, len(s.Apps))
	for key, app := range s.Apps {
		public[app] = s.PublicInputs[key]
		private[app] = s.PrivateInputs[key]
	}
	indexes := make(map[string]uint64, len(s.Apps))
	for i, app := range public.Apps() {
		indexes[keyed[app]] = uint64(i)
	}

	ins := make([]charms.UtxoId, 0, len(s.Ins))
	seen := make(map[charms.UtxoId]bool, len(s.Ins))
	hints := BeamHints{}
	for i, in := range s.Ins {
		if in.UtxoId == nil {
			return nil, nil, nil, newError(MISSING_UTXO_ID, "input %d has no utxo_id", i)
		}
		if seen[*in.UtxoId] {
			return nil, nil, nil, newError(DUPLICATE_INPUT, "input %s is spent twice", *in.UtxoId)
		}
		seen[*in.UtxoId] = true
		ins = append(ins, *in.UtxoId)
		if in.BeamedFrom != nil {
			hints[*in.UtxoId] = *in.BeamedFrom
		}
	}

	refs := make([]charms.UtxoId, 0, len(s.Refs))
	seenRefs := make(map[charms.UtxoId]bool, len(s.Refs))
	for i, ref := range s.Refs {
		if ref.UtxoId == nil {
			return nil, nil, nil, newError(MISSING_UTXO_ID, "ref %d has no utxo_id", i)
		}
		if seenRefs[*ref.UtxoId] {
			return nil, nil, nil, newError(DUPLICATE_REF, "ref %s is listed twice", *ref.UtxoId)
		}
		seenRefs[*ref.UtxoId] = true
		refs = append(refs, *ref.UtxoId)
	}
	slices.SortFunc(refs, charms.UtxoId.Compare)

	outs := make([]NormalizedCharms, 0, len(s.Outs))
	var beamed BeamedOuts
	for i, out := range s.Outs {
		n := make(NormalizedCharms, len(out.Charms))
		for key, data := range out.Charms {
			idx, ok := indexes[key]
			if !ok {
				return nil, nil, nil, newError(UNKNOWN_APP_KEY, "output %d references unknown app %q", i, key)
			}
			n[idx] = data
		}
		outs = append(outs, n)
		if out.BeamTo != nil {
			if beamed == nil {
				beamed = BeamedOuts{}
			}
			beamed[uint64(i)] = *out.BeamTo
		}
	}

	return &NormalizedSpell{
		Version: s.Version,
		Tx: NormalizedTransaction{
			Ins:        ins,
			Refs:       refs,
			Outs:       outs,
			BeamedOuts: beamed,
		},
		AppPublicInputs: public,
	}, private, hints, nil
}

// AppKey names the app at index i in a denormalized spell.
func AppKey(i int) string {
	return fmt.Sprintf("$%04d", i)
}

// Denormalize renders a normalized spell for inspection. App names are
// synthesized from their indexes, and addresses and amounts are not
// recoverable.
func Denormalize(ns *NormalizedSpell) *Spell {
	apps := ns.Apps()
	s := &Spell{
		Version: ns.Version,
		Apps:    make(map[string]charms.App, len(apps)),
	}
	for i, app := range apps {
		key := AppKey(i)
		s.Apps[key] = app
		if d := ns.AppPublicInputs[app]; !d.IsEmpty() {
			if s.PublicInputs == nil {
				s.PublicInputs = map[string]charms.Data{}
			}
			s.PublicInputs[key] = d
		}
	}
	if ns.Tx.Ins != nil {
		s.Ins = make([]Input, 0, len(ns.Tx.Ins))
		for _, u := range ns.Tx.Ins {
			s.Ins = append(s.Ins, Input{UtxoId: &u})
		}
	}
	for _, u := range ns.Tx.Refs {
		s.Refs = append(s.Refs, Input{UtxoId: &u})
	}
	s.Outs = make([]Output, 0, len(ns.Tx.Outs))
	for i, n := range ns.Tx.Outs {
		out := Output{}
		if len(n) > 0 {
			out.Charms = make(KeyedCharms, len(n))
			for _, idx := range n.Keys() {
				if idx < uint64(len(apps)) {
					out.Charms[AppKey(int(idx))] = n[idx]
				}
			}
		}
		if dest, ok := ns.Tx.BeamedOuts[uint64(i)]; ok {
			out.BeamTo = &dest
		}
		s.Outs = append(s.Outs, out)
	}
	return s
}
