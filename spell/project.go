package spell

import (
	"fmt"

	"github.com/RiemaLabs/charms-indexer/charms"
)

// CharmsOf resolves the app indexes of n against the spell's app table.
func CharmsOf(s *NormalizedSpell, n NormalizedCharms) (charms.Charms, error) {
	apps := s.Apps()
	c := make(charms.Charms, len(n))
	for idx, data := range n {
		if idx >= uint64(len(apps)) {
			return nil, fmt.Errorf("app index %d out of range", idx)
		}
		c[apps[idx]] = data
	}
	return c, nil
}

// CharmsAt returns the charms a prerequisite transaction put on output u.
// Outputs without declared state, and transactions without a spell, give
// empty charms.
func CharmsAt(prev PrevSpells, u charms.UtxoId) (charms.Charms, error) {
	p, ok := prev[u.TxId]
	if !ok {
		return nil, fmt.Errorf("transaction %s is not supplied", u.TxId)
	}
	if p.Spell == nil || uint64(u.Index) >= uint64(len(p.Spell.Tx.Outs)) {
		return charms.Charms{}, nil
	}
	return CharmsOf(p.Spell, p.Spell.Tx.Outs[u.Index])
}

// ToTx projects a well-formed spell onto a resolved transaction.
func ToTx(s *NormalizedSpell, prev PrevSpells, hints BeamHints) (*charms.Transaction, error) {
	if !s.Tx.HasIns() {
		return nil, newError(MISSING_INS, "spell inputs are not bound")
	}
	resolve := func(u charms.UtxoId) (charms.Charms, error) {
		c, err := CharmsAt(prev, u)
		if err != nil {
			return nil, err
		}
		if source, ok := hints[u]; ok && len(c) == 0 {
			return CharmsAt(prev, source)
		}
		return c, nil
	}

	tx := &charms.Transaction{
		Ins:  make(charms.UtxoCharms, len(s.Tx.Ins)),
		Refs: make(charms.UtxoCharms, len(s.Tx.Refs)),
		Outs: make([]charms.Charms, 0, len(s.Tx.Outs)),
	}
	for _, u := range s.Tx.Ins {
		c, err := resolve(u)
		if err != nil {
			return nil, err
		}
		tx.Ins[u] = c
	}
	for _, u := range s.Tx.Refs {
		c, err := resolve(u)
		if err != nil {
			return nil, err
		}
		tx.Refs[u] = c
	}
	for _, n := range s.Tx.Outs {
		c, err := CharmsOf(s, n)
		if err != nil {
			return nil, err
		}
		tx.Outs = append(tx.Outs, c)
	}
	return tx, nil
}
