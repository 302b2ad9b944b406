package apis_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/apis"
	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/checker"
	"github.com/RiemaLabs/charms-indexer/getter"
	"github.com/RiemaLabs/charms-indexer/indexer"
	"github.com/RiemaLabs/charms-indexer/internal/spelltest"
	"github.com/RiemaLabs/charms-indexer/internal/tree"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

var token = charms.App{Tag: charms.TOKEN, Identity: charms.UtxoId{TxId: spelltest.Hash("genesis")}, VK: charms.B32{1}}

func init() {
	gin.SetMode(gin.TestMode)
}

func amounts(vs ...uint64) []spell.NormalizedCharms {
	outs := make([]spell.NormalizedCharms, len(vs))
	for i, v := range vs {
		outs[i] = spell.NormalizedCharms{0: charms.MustData(v)}
	}
	return outs
}

func mintTx(t *testing.T) *ledger.BitcoinTx {
	ins := []charms.UtxoId{{TxId: spelltest.Hash("funding")}}
	mint := &spell.NormalizedSpell{
		Version:         spell.CurrentVersion,
		Tx:              spell.NormalizedTransaction{Ins: ins, Refs: []charms.UtxoId{}, Outs: amounts(100, 50)},
		AppPublicInputs: spell.AppInputs{token: {}},
	}
	return spelltest.BitcoinTx(t, ins, 2, spelltest.Payload(t, mint))
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSpellRoutes(t *testing.T) {
	reg, _ := spelltest.Setup(t)
	tx := mintTx(t)
	plain := spelltest.BitcoinTx(t, []charms.UtxoId{{TxId: spelltest.Hash("other")}}, 1, nil)

	g := getter.NewMemoryGetter(10)
	g.AddBlock(tx.MsgTx(), plain.MsgTx())
	r := apis.NewRouter(&apis.Service{Verifier: reg, Getter: g}, false)

	w := do(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = do(t, r, http.MethodPut, "/spells/"+tx.TxId().String(), apis.ExtractRequest{TxHex: tx.Hex()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got spell.Spell
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, spell.CurrentVersion, got.Version)
	assert.Equal(t, token, got.Apps[spell.AppKey(0)])
	require.Len(t, got.Outs, 2)
	assert.True(t, got.Outs[1].Charms[spell.AppKey(0)].Equal(charms.MustData(uint64(50))))

	w = do(t, r, http.MethodPut, "/spells/"+plain.TxId().String(), apis.ExtractRequest{TxHex: tx.Hex()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/spells/"+plain.TxId().String(), apis.ExtractRequest{TxHex: plain.Hex(), Chain: "bitcoin"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPut, "/spells/"+tx.TxId().String(), apis.ExtractRequest{TxHex: tx.Hex(), Chain: "solana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/spells/"+tx.TxId().String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/spells/"+spelltest.Hash("missing").String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/spells/zz", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/spells/check", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckRoute(t *testing.T) {
	reg, _ := spelltest.Setup(t)
	runner, err := apprunner.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	r := apis.NewRouter(&apis.Service{Verifier: reg, Checker: checker.New(ledger.NewResolver(reg), runner)}, false)

	prev := mintTx(t)
	transfer := func(outs ...uint64) *spell.Spell {
		return spell.Denormalize(&spell.NormalizedSpell{
			Version: spell.CurrentVersion,
			Tx: spell.NormalizedTransaction{
				Ins:  []charms.UtxoId{{TxId: prev.TxId(), Index: 0}, {TxId: prev.TxId(), Index: 1}},
				Refs: []charms.UtxoId{},
				Outs: amounts(outs...),
			},
			AppPublicInputs: spell.AppInputs{token: {}},
		})
	}

	w := do(t, r, http.MethodPost, "/spells/check", apis.CheckRequest{Spell: transfer(120, 30), PrevTxs: []string{prev.Hex()}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ok apis.CheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ok))
	require.NotNil(t, ok.Result)
	assert.Equal(t, []string{token.String()}, ok.Result.Apps)

	w = do(t, r, http.MethodPost, "/spells/check", apis.CheckRequest{Spell: transfer(120, 31), PrevTxs: []string{prev.Hex()}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var failed apis.CheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.NotNil(t, failed.Error)
	assert.Equal(t, string(checker.APP_CONTRACT_FAILED), failed.Code)

	w = do(t, r, http.MethodPost, "/spells/check", apis.CheckRequest{Spell: transfer(150), AppBins: []string{"%%%"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommitteeRoutes(t *testing.T) {
	reg, _ := spelltest.Setup(t)
	tx := mintTx(t)
	g := getter.NewMemoryGetter(200)
	g.AddBlock(tx.MsgTx())
	g.AddBlock()

	tr, err := tree.OpenSpellTree(filepath.Join(t.TempDir(), "tree"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	ix := indexer.New(g, ledger.NewResolver(reg), tr, indexer.Config{StartHeight: 200})
	require.NoError(t, ix.CatchUp(context.Background(), 201))

	r := apis.NewRouter(&apis.Service{Verifier: reg, Indexer: ix}, false)

	w := do(t, r, http.MethodGet, "/v1/charms/block_height", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "201", w.Body.String())

	w = do(t, r, http.MethodGet, "/v1/charms/commitment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var commitment apis.CommitmentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commitment))
	assert.Equal(t, uint(201), commitment.Height)

	w = do(t, r, http.MethodGet, "/v1/charms/spells/"+tx.TxId().String()+"/proof", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var inclusion apis.SpellInclusionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inclusion))
	require.NoError(t, apis.VerifySpellInclusion(commitment.Commitment, tx.TxId(), &inclusion))

	forged := inclusion
	forged.Result = &apis.SpellInclusionResult{TxId: inclusion.Result.TxId, SpellHash: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", Height: 201}
	assert.Error(t, apis.VerifySpellInclusion(commitment.Commitment, tx.TxId(), &forged))
	assert.Error(t, apis.VerifySpellInclusion(commitment.Commitment, spelltest.Hash("other"), &inclusion))

	w = do(t, r, http.MethodGet, "/v1/charms/spells/"+spelltest.Hash("missing").String()+"/proof", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
