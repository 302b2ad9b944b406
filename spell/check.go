package spell

import (
	"github.com/RiemaLabs/charms-indexer/charms"
)

// WellFormed reports whether the spell is well formed against the resolved
// prerequisite transactions and beam hints.
func WellFormed(s *NormalizedSpell, prev PrevSpells, hints BeamHints) bool {
	return Check(s, prev, hints) == nil
}

// Check is WellFormed returning the first failed check as an *Error.
func Check(s *NormalizedSpell, prev PrevSpells, hints BeamHints) error {
	if s == nil {
		return newError(MISSING_INS, "no spell")
	}
	if s.Version != CurrentVersion {
		return newError(VERSION_MISMATCH, "spell version %d, expected %d", s.Version, CurrentVersion)
	}

	apps := uint64(len(s.AppPublicInputs))
	for i, n := range s.Tx.Outs {
		for idx := range n {
			if idx >= apps {
				return newError(APP_INDEX_OUT_OF_RANGE, "output %d references app index %d, spell has %d apps", i, idx, apps)
			}
		}
	}

	if !s.Tx.HasIns() {
		return newError(MISSING_INS, "spell inputs are not bound")
	}

	for _, u := range s.Tx.Ins {
		if err := checkBacked(prev, u, INPUT_NOT_BACKED); err != nil {
			return err
		}
	}
	for _, u := range s.Tx.Refs {
		if err := checkBacked(prev, u, REF_NOT_BACKED); err != nil {
			return err
		}
	}

	// TODO: a beamed-out output spent directly further downstream is only
	// caught by the local direct-backing check above.
	ins := make(map[charms.UtxoId]bool, len(s.Tx.Ins))
	for _, u := range s.Tx.Ins {
		ins[u] = true
	}
	for _, in := range hints.Keys() {
		source := hints[in]
		if !ins[in] {
			return newError(BEAM_INPUT_UNKNOWN, "beamed input %s is not spent by the spell", in)
		}
		host, ok := prev[in.TxId]
		if !ok {
			return newError(INPUT_NOT_BACKED, "transaction %s hosting beamed input is not supplied", in.TxId)
		}
		if host.Spell != nil {
			return newError(BEAM_HOST_HAS_SPELL, "transaction %s hosting beamed input %s carries a spell", in.TxId, in)
		}
		src, ok := prev[source.TxId]
		if !ok || src.Spell == nil {
			return newError(BEAM_SOURCE_MISSING, "beam source %s has no spell", source)
		}
		dest, ok := src.Spell.Tx.BeamedOuts[uint64(source.Index)]
		if !ok {
			return newError(BEAM_SOURCE_MISSING, "beam source %s is not beamed out", source)
		}
		if dest != in.Hash() {
			return newError(BEAM_DESTINATION_MISMATCH, "beam source %s targets %s, not %s", source, dest, in)
		}
	}
	return nil
}

// checkBacked requires u to be an output of a supplied prerequisite that is
// not beamed out.
func checkBacked(prev PrevSpells, u charms.UtxoId, code ErrorCode) error {
	p, ok := prev[u.TxId]
	if !ok {
		return newError(code, "transaction %s is not supplied", u.TxId)
	}
	if int64(u.Index) > int64(p.OutsLen) {
		return newError(code, "%s is beyond the %d outputs of its transaction", u, p.OutsLen)
	}
	if p.Spell != nil {
		if _, beamed := p.Spell.Tx.BeamedOuts[uint64(u.Index)]; beamed {
			return newError(BEAMED_OUT_SPENT, "%s is beamed out and cannot be spent directly", u)
		}
	}
	return nil
}

// PrevTxIds returns the transactions the spell depends on: those of its
// inputs, its references and the sources of beamed inputs.
func PrevTxIds(s *NormalizedSpell, hints BeamHints) map[charms.TxId]struct{} {
	ids := make(map[charms.TxId]struct{})
	for _, u := range s.Tx.Ins {
		ids[u.TxId] = struct{}{}
	}
	for _, u := range s.Tx.Refs {
		ids[u.TxId] = struct{}{}
	}
	for _, source := range hints {
		ids[source.TxId] = struct{}{}
	}
	return ids
}
