package checker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/checker"
	"github.com/RiemaLabs/charms-indexer/internal/spelltest"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

var token = charms.App{Tag: charms.TOKEN, Identity: charms.UtxoId{TxId: spelltest.Hash("genesis")}, VK: charms.B32{1}}

func amounts(vs ...uint64) []spell.NormalizedCharms {
	outs := make([]spell.NormalizedCharms, len(vs))
	for i, v := range vs {
		outs[i] = spell.NormalizedCharms{0: charms.MustData(v)}
	}
	return outs
}

func funding() []charms.UtxoId {
	return []charms.UtxoId{{TxId: spelltest.Hash("funding")}}
}

// mintTx is a Bitcoin transaction with a proven spell creating two token
// outputs of 100 and 50.
func mintTx(t *testing.T) ledger.Tx {
	mint := &spell.NormalizedSpell{
		Version:         spell.CurrentVersion,
		Tx:              spell.NormalizedTransaction{Ins: funding(), Refs: []charms.UtxoId{}, Outs: amounts(100, 50)},
		AppPublicInputs: spell.AppInputs{token: {}},
	}
	return spelltest.BitcoinTx(t, funding(), 2, spelltest.Payload(t, mint))
}

func transfer(prev charms.TxId, outs ...uint64) *spell.NormalizedSpell {
	return &spell.NormalizedSpell{
		Version: spell.CurrentVersion,
		Tx: spell.NormalizedTransaction{
			Ins:  []charms.UtxoId{{TxId: prev, Index: 0}, {TxId: prev, Index: 1}},
			Refs: []charms.UtxoId{},
			Outs: amounts(outs...),
		},
		AppPublicInputs: spell.AppInputs{token: {}},
	}
}

func newChecker(t *testing.T) *checker.Checker {
	reg, _ := spelltest.Setup(t)
	runner, err := apprunner.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	return checker.New(ledger.NewResolver(reg), runner)
}

func TestCheck(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	prev := mintTx(t)

	report, err := c.Check(ctx, &checker.Request{
		Spell:   transfer(prev.TxId(), 120, 30),
		PrevTxs: []ledger.Tx{prev},
		Budget:  apprunner.DefaultBudget(),
	})
	require.NoError(t, err)
	assert.Equal(t, []charms.App{token}, report.Apps)
	assert.Equal(t, []uint64{0}, report.Steps)
	require.Len(t, report.Tx.Ins, 2)
	assert.True(t, report.Tx.Ins[charms.UtxoId{TxId: prev.TxId(), Index: 1}][token].Equal(charms.MustData(uint64(50))))

	_, err = c.Check(ctx, &checker.Request{Spell: transfer(prev.TxId(), 120, 31), PrevTxs: []ledger.Tx{prev}})
	assert.True(t, spell.IsCode(err, checker.APP_CONTRACT_FAILED), "got %v", err)

	unrelated := spelltest.BitcoinTx(t, funding(), 1, nil)
	_, err = c.Check(ctx, &checker.Request{Spell: transfer(prev.TxId(), 150), PrevTxs: []ledger.Tx{prev, unrelated}})
	assert.True(t, spell.IsCode(err, checker.PREREQUISITE_MISMATCH), "got %v", err)

	_, err = c.Check(ctx, &checker.Request{Spell: transfer(prev.TxId(), 150)})
	assert.True(t, spell.IsCode(err, spell.INPUT_NOT_BACKED), "got %v", err)
}

func TestNewRequest(t *testing.T) {
	prevId := spelltest.Hash("prev")
	in := charms.UtxoId{TxId: prevId}
	amount := uint64(10)
	src := &spell.Spell{
		Version:       spell.CurrentVersion,
		Apps:          map[string]charms.App{"$t": token},
		PrivateInputs: map[string]charms.Data{"$t": charms.MustData("witness")},
		Ins:           []spell.Input{{UtxoId: &in, Charms: spell.KeyedCharms{"$t": charms.MustData(amount)}}},
		Outs:          []spell.Output{{Amount: &amount, Charms: spell.KeyedCharms{"$t": charms.MustData(amount)}}},
	}
	req, err := checker.NewRequest(src, nil, [][]byte{{0x00, 0x61, 0x73, 0x6d}})
	require.NoError(t, err)
	assert.Equal(t, []charms.UtxoId{in}, req.Spell.Tx.Ins)
	assert.True(t, req.PrivateInputs[token].Equal(charms.MustData("witness")))
	assert.Len(t, req.AppBinaries, 1)
	assert.Equal(t, apprunner.DefaultMaxSteps, req.Budget.MaxSteps)
}

func TestProve(t *testing.T) {
	reg, prover := spelltest.Setup(t)
	c := newChecker(t)
	p := checker.NewProver(c, reg, prover)
	prev := mintTx(t)

	payload, _, err := p.Prove(context.Background(), &checker.Request{
		Spell:   transfer(prev.TxId(), 75, 75),
		PrevTxs: []ledger.Tx{prev},
	})
	require.NoError(t, err)

	ins := []charms.UtxoId{{TxId: prev.TxId(), Index: 0}, {TxId: prev.TxId(), Index: 1}}
	host := spelltest.BitcoinTx(t, ins, 2, payload)
	s, err := host.ExtractAndVerify(reg)
	require.NoError(t, err)
	assert.Equal(t, ins, s.Tx.Ins)

	// The extracted spell passes the checker against the same prior tx.
	_, err = c.Check(context.Background(), &checker.Request{Spell: s, PrevTxs: []ledger.Tx{prev}})
	assert.NoError(t, err)

	_, _, err = p.Prove(context.Background(), &checker.Request{Spell: transfer(prev.TxId(), 1), PrevTxs: []ledger.Tx{prev}})
	assert.Error(t, err)
}
