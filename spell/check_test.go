package spell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/charms"
)

// transferSpell spends output 0 of tx 0x10 and references output 1 of the
// same transaction.
func transferSpell() *NormalizedSpell {
	return &NormalizedSpell{
		Version: CurrentVersion,
		Tx: NormalizedTransaction{
			Ins:  []charms.UtxoId{utxo(0x10, 0)},
			Refs: []charms.UtxoId{utxo(0x10, 1)},
			Outs: []NormalizedCharms{{0: charms.MustData(uint64(50))}},
		},
		AppPublicInputs: AppInputs{tokenApp: {}},
	}
}

func transferPrev() PrevSpells {
	return PrevSpells{txid(0x10): prevWithOuts(50, 7)}
}

func TestWellFormed(t *testing.T) {
	assert.True(t, WellFormed(transferSpell(), transferPrev(), nil))
	assert.NoError(t, Check(transferSpell(), transferPrev(), BeamHints{}))
}

func TestCheckFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *NormalizedSpell, prev PrevSpells)
		code   ErrorCode
	}{
		{"older version", func(s *NormalizedSpell, _ PrevSpells) { s.Version = CurrentVersion - 1 }, VERSION_MISMATCH},
		{"app index off by one", func(s *NormalizedSpell, _ PrevSpells) {
			s.Tx.Outs[0][uint64(len(s.AppPublicInputs))] = charms.Data{}
		}, APP_INDEX_OUT_OF_RANGE},
		{"unbound ins", func(s *NormalizedSpell, _ PrevSpells) { s.Tx.Ins = nil }, MISSING_INS},
		{"missing prerequisite", func(_ *NormalizedSpell, prev PrevSpells) { delete(prev, txid(0x10)) }, INPUT_NOT_BACKED},
		{"input beyond outputs", func(s *NormalizedSpell, _ PrevSpells) { s.Tx.Ins[0].Index = 3 }, INPUT_NOT_BACKED},
		{"ref beyond outputs", func(s *NormalizedSpell, _ PrevSpells) { s.Tx.Refs[0].Index = 3 }, REF_NOT_BACKED},
		{"spending a beamed out output", func(_ *NormalizedSpell, prev PrevSpells) {
			p := prev[txid(0x10)]
			p.Spell.Tx.BeamedOuts = BeamedOuts{0: utxo(0x99, 0).Hash()}
		}, BEAMED_OUT_SPENT},
		{"referencing a beamed out output", func(_ *NormalizedSpell, prev PrevSpells) {
			p := prev[txid(0x10)]
			p.Spell.Tx.BeamedOuts = BeamedOuts{1: utxo(0x99, 0).Hash()}
		}, BEAMED_OUT_SPENT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, prev := transferSpell(), transferPrev()
			tt.mutate(s, prev)
			err := Check(s, prev, nil)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
			assert.False(t, WellFormed(s, prev, nil))
		})
	}
}

func TestCheckVersionFirst(t *testing.T) {
	s := transferSpell()
	s.Version = CurrentVersion - 1
	s.Tx.Ins = nil
	assert.Equal(t, VERSION_MISMATCH, CodeOf(Check(s, PrevSpells{}, nil)))
}

func TestCheckIndexEqualToOutputCount(t *testing.T) {
	// The backing check admits index == output count.
	s := transferSpell()
	s.Tx.Ins[0].Index = 2
	assert.True(t, WellFormed(s, transferPrev(), nil))
}

func TestCheckSpellFreePrerequisite(t *testing.T) {
	s := transferSpell()
	prev := PrevSpells{txid(0x10): {OutsLen: 2}}
	assert.True(t, WellFormed(s, prev, nil))
}

func TestWellFormedMonotonic(t *testing.T) {
	prev := transferPrev()
	prev[txid(0x77)] = prevWithOuts(1, 2, 3)
	prev[txid(0x78)] = PrevSpell{OutsLen: 1}
	assert.True(t, WellFormed(transferSpell(), prev, nil))
}

// beamFixture moves the charm of output 0 of source tx 0x20 onto input
// 0x30:0, hosted by a spell-free transaction.
func beamFixture() (*NormalizedSpell, PrevSpells, BeamHints) {
	in := utxo(0x30, 0)
	source := utxo(0x20, 0)
	src := prevWithOuts(25)
	src.Spell.Tx.BeamedOuts = BeamedOuts{0: in.Hash()}

	s := &NormalizedSpell{
		Version: CurrentVersion,
		Tx: NormalizedTransaction{
			Ins:  []charms.UtxoId{in},
			Outs: []NormalizedCharms{{0: charms.MustData(uint64(25))}},
		},
		AppPublicInputs: AppInputs{tokenApp: {}},
	}
	prev := PrevSpells{
		txid(0x20): src,
		txid(0x30): {OutsLen: 1},
	}
	return s, prev, BeamHints{in: source}
}

func TestBeamClosure(t *testing.T) {
	s, prev, hints := beamFixture()
	require.NoError(t, Check(s, prev, hints))

	ids := PrevTxIds(s, hints)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, txid(0x20))
	assert.Contains(t, ids, txid(0x30))
}

func TestBeamFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *NormalizedSpell, prev PrevSpells, hints BeamHints)
		code   ErrorCode
	}{
		{"hint for an input not spent", func(_ *NormalizedSpell, _ PrevSpells, hints BeamHints) {
			hints[utxo(0x31, 0)] = utxo(0x20, 0)
		}, BEAM_INPUT_UNKNOWN},
		{"host carries a spell", func(_ *NormalizedSpell, prev PrevSpells, _ BeamHints) {
			prev[txid(0x30)] = prevWithOuts(1)
		}, BEAM_HOST_HAS_SPELL},
		{"source without spell", func(_ *NormalizedSpell, prev PrevSpells, _ BeamHints) {
			prev[txid(0x20)] = PrevSpell{OutsLen: 1}
		}, BEAM_SOURCE_MISSING},
		{"source not supplied", func(_ *NormalizedSpell, prev PrevSpells, _ BeamHints) {
			delete(prev, txid(0x20))
		}, BEAM_SOURCE_MISSING},
		{"source output not beamed", func(_ *NormalizedSpell, prev PrevSpells, _ BeamHints) {
			prev[txid(0x20)].Spell.Tx.BeamedOuts = nil
		}, BEAM_SOURCE_MISSING},
		{"destination hash mismatch", func(_ *NormalizedSpell, prev PrevSpells, _ BeamHints) {
			prev[txid(0x20)].Spell.Tx.BeamedOuts[0] = utxo(0x30, 1).Hash()
		}, BEAM_DESTINATION_MISMATCH},
		{"hint points at another source output", func(_ *NormalizedSpell, _ PrevSpells, hints BeamHints) {
			hints[utxo(0x30, 0)] = utxo(0x20, 1)
		}, BEAM_SOURCE_MISSING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, prev, hints := beamFixture()
			tt.mutate(s, prev, hints)
			err := Check(s, prev, hints)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestToTx(t *testing.T) {
	s := transferSpell()
	tx, err := ToTx(s, transferPrev(), nil)
	require.NoError(t, err)

	in := tx.Ins[utxo(0x10, 0)]
	ref := tx.Refs[utxo(0x10, 1)]
	assert.True(t, in[tokenApp].Equal(charms.MustData(uint64(50))))
	assert.True(t, ref[tokenApp].Equal(charms.MustData(uint64(7))))
	require.Len(t, tx.Outs, 1)
	assert.True(t, tx.Outs[0][tokenApp].Equal(charms.MustData(uint64(50))))
	assert.True(t, charms.IsSimpleTransfer(tokenApp, tx))
}

func TestProjectionIndependentOfRole(t *testing.T) {
	u := utxo(0x10, 1)
	s := transferSpell()
	s.Tx.Ins = []charms.UtxoId{u}
	s.Tx.Refs = []charms.UtxoId{u}
	tx, err := ToTx(s, transferPrev(), nil)
	require.NoError(t, err)
	assert.Equal(t, tx.Ins[u], tx.Refs[u])
}

func TestToTxDefaultsAndBeams(t *testing.T) {
	s := transferSpell()
	s.Tx.Ins = append(s.Tx.Ins, utxo(0x11, 0))
	prev := transferPrev()
	prev[txid(0x11)] = PrevSpell{OutsLen: 1}
	tx, err := ToTx(s, prev, nil)
	require.NoError(t, err)
	assert.Empty(t, tx.Ins[utxo(0x11, 0)])

	bs, bprev, hints := beamFixture()
	btx, err := ToTx(bs, bprev, hints)
	require.NoError(t, err)
	assert.True(t, btx.Ins[utxo(0x30, 0)][tokenApp].Equal(charms.MustData(uint64(25))))
	assert.True(t, charms.IsSimpleTransfer(tokenApp, btx))

	_, err = ToTx(transferSpell(), PrevSpells{}, nil)
	assert.Error(t, err)
}
