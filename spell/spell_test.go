package spell

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

func txid(b byte) charms.TxId {
	var t charms.TxId
	for i := range t {
		t[i] = b
	}
	return t
}

func utxo(b byte, idx uint32) charms.UtxoId {
	return charms.UtxoId{TxId: txid(b), Index: idx}
}

var (
	tokenApp = charms.App{Tag: charms.TOKEN, Identity: utxo(0xa0, 0), VK: charms.B32{1}}
	nftApp   = charms.App{Tag: charms.NFT, Identity: utxo(0xa1, 0), VK: charms.B32{2}}
)

// prevWithOuts is a prerequisite transaction carrying a spell with one
// token output per amount.
func prevWithOuts(amounts ...uint64) PrevSpell {
	s := &NormalizedSpell{
		Version:         CurrentVersion,
		Tx:              NormalizedTransaction{Ins: []charms.UtxoId{}},
		AppPublicInputs: AppInputs{tokenApp: {}},
	}
	for _, a := range amounts {
		s.Tx.Outs = append(s.Tx.Outs, NormalizedCharms{0: charms.MustData(a)})
	}
	return PrevSpell{Spell: s, OutsLen: len(amounts)}
}

func sourceSpell(t *testing.T) *Spell {
	t.Helper()
	in := utxo(0x01, 0)
	return &Spell{
		Version: CurrentVersion,
		Apps:    map[string]charms.App{"$token": tokenApp, "$nft": nftApp},
		PublicInputs: map[string]charms.Data{
			"$token": charms.MustData("mint"),
		},
		PrivateInputs: map[string]charms.Data{
			"$nft": charms.MustData("secret"),
		},
		Ins: []Input{{UtxoId: &in}},
		Outs: []Output{
			{Charms: KeyedCharms{"$token": charms.MustData(uint64(30))}},
			{Charms: KeyedCharms{"$token": charms.MustData(uint64(70)), "$nft": charms.MustData("art")}},
		},
	}
}

func TestNormalize(t *testing.T) {
	ns, private, hints, err := sourceSpell(t).Normalize()
	require.NoError(t, err)
	assert.Empty(t, hints)

	// 'n' sorts before 't', so the NFT is app 0.
	apps := ns.Apps()
	require.Equal(t, []charms.App{nftApp, tokenApp}, apps)
	assert.True(t, ns.AppPublicInputs[nftApp].IsEmpty())
	assert.True(t, ns.AppPublicInputs[tokenApp].Equal(charms.MustData("mint")))
	assert.True(t, private[nftApp].Equal(charms.MustData("secret")))
	assert.True(t, private[tokenApp].IsEmpty())

	require.Len(t, ns.Tx.Outs, 2)
	assert.Equal(t, []uint64{1}, ns.Tx.Outs[0].Keys())
	assert.Equal(t, []uint64{0, 1}, ns.Tx.Outs[1].Keys())
	assert.Nil(t, ns.Tx.BeamedOuts)
	assert.Equal(t, []charms.UtxoId{utxo(0x01, 0)}, ns.Tx.Ins)
}

func TestNormalizeIsCanonical(t *testing.T) {
	a := sourceSpell(t)
	b := sourceSpell(t)
	b.Apps = map[string]charms.App{"x": nftApp, "y": tokenApp}
	b.PublicInputs = map[string]charms.Data{"y": charms.MustData("mint")}
	b.Outs = []Output{
		{Charms: KeyedCharms{"y": charms.MustData(uint64(30))}},
		{Charms: KeyedCharms{"x": charms.MustData("art"), "y": charms.MustData(uint64(70))}},
	}
	na, _, _, err := a.Normalize()
	require.NoError(t, err)
	nb, _, _, err := b.Normalize()
	require.NoError(t, err)

	ra, err := na.Marshal()
	require.NoError(t, err)
	rb, err := nb.Marshal()
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestNormalizeErrors(t *testing.T) {
	dup := utxo(0x01, 0)
	tests := []struct {
		name   string
		mutate func(s *Spell)
		code   ErrorCode
	}{
		{"duplicate apps", func(s *Spell) { s.Apps["$again"] = tokenApp }, DUPLICATE_APPS},
		{"missing utxo id", func(s *Spell) { s.Ins = append(s.Ins, Input{}) }, MISSING_UTXO_ID},
		{"duplicate input", func(s *Spell) { s.Ins = append(s.Ins, Input{UtxoId: &dup}) }, DUPLICATE_INPUT},
		{"duplicate ref", func(s *Spell) { s.Refs = []Input{{UtxoId: &dup}, {UtxoId: &dup}} }, DUPLICATE_REF},
		{"missing ref id", func(s *Spell) { s.Refs = []Input{{}} }, MISSING_UTXO_ID},
		{"unknown app key", func(s *Spell) { s.Outs[0].Charms["$nope"] = charms.MustData(1) }, UNKNOWN_APP_KEY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sourceSpell(t)
			tt.mutate(s)
			_, _, _, err := s.Normalize()
			assert.True(t, IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestNormalizeBeams(t *testing.T) {
	s := sourceSpell(t)
	source := utxo(0x02, 1)
	s.Ins[0].BeamedFrom = &source
	dest := utxo(0x03, 0).Hash()
	s.Outs[1].BeamTo = &dest

	ns, _, hints, err := s.Normalize()
	require.NoError(t, err)
	assert.Equal(t, BeamHints{utxo(0x01, 0): source}, hints)
	assert.Equal(t, BeamedOuts{1: dest}, ns.Tx.BeamedOuts)
}

func TestSourceSpellYAML(t *testing.T) {
	doc := `
version: 3
apps:
  $t: t/` + txid(0xa0).String() + `:0/` + charms.B32{1}.String() + `
ins:
  - utxo_id: ` + utxo(0x01, 0).String() + `
outs:
  - address: bc1qexample
    sats: 1000
    charms:
      $t: 100
`
	var s Spell
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))
	sats, ok := s.Outs[0].Value()
	require.True(t, ok)
	assert.Equal(t, uint64(1000), sats)

	ns, _, _, err := s.Normalize()
	require.NoError(t, err)
	var amount uint64
	require.NoError(t, ns.Tx.Outs[0][0].Decode(&amount))
	assert.Equal(t, uint64(100), amount)
	assert.Equal(t, []charms.App{tokenApp}, ns.Apps())
}

func TestDenormalize(t *testing.T) {
	s := sourceSpell(t)
	dest := utxo(0x03, 0).Hash()
	s.Outs[0].BeamTo = &dest
	ns, _, _, err := s.Normalize()
	require.NoError(t, err)

	d := Denormalize(ns)
	assert.Equal(t, nftApp, d.Apps["$0000"])
	assert.Equal(t, tokenApp, d.Apps["$0001"])
	assert.Len(t, d.PublicInputs, 1)
	require.Len(t, d.Outs, 2)
	assert.Equal(t, &dest, d.Outs[0].BeamTo)
	assert.Contains(t, d.Outs[1].Charms, "$0000")

	// Denormalizing and normalizing again gives the same committed form.
	back, _, _, err := d.Normalize()
	require.NoError(t, err)
	ra, err := ns.Marshal()
	require.NoError(t, err)
	rb, err := back.Marshal()
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestSpellWireFormat(t *testing.T) {
	ns, _, _, err := sourceSpell(t).Normalize()
	require.NoError(t, err)
	ns.Tx.Ins = nil

	raw, err := ns.Marshal()
	require.NoError(t, err)
	prefix := []byte{0xa3, 0x67}
	prefix = append(prefix, "version"...)
	prefix = append(prefix, 0x03, 0x62)
	prefix = append(prefix, "tx"...)
	// Without ins and beamed_outs the transaction has two fields.
	prefix = append(prefix, 0xa2, 0x64)
	prefix = append(prefix, "refs"...)
	assert.True(t, bytes.HasPrefix(raw, prefix), "%x", raw)

	back, err := UnmarshalSpell(raw)
	require.NoError(t, err)
	assert.False(t, back.Tx.HasIns())

	// A bound but empty input list is kept distinct from an unbound one.
	ns.Tx.Ins = []charms.UtxoId{}
	withIns, err := ns.Marshal()
	require.NoError(t, err)
	assert.NotEqual(t, raw, withIns)
	back, err = UnmarshalSpell(withIns)
	require.NoError(t, err)
	assert.True(t, back.Tx.HasIns())
	assert.Empty(t, back.Tx.Ins)

	again, err := back.Marshal()
	require.NoError(t, err)
	assert.Equal(t, withIns, again)
}

func TestSpellDecodeIsStrict(t *testing.T) {
	fields := map[string]interface{}{
		"version":           3,
		"tx":                map[string]interface{}{"refs": []interface{}{}, "outs": []interface{}{}},
		"app_public_inputs": map[string]interface{}{},
	}
	raw, err := cborx.MarshalCanonical(fields)
	require.NoError(t, err)
	_, err = UnmarshalSpell(raw)
	require.NoError(t, err)

	fields["extra"] = 1
	raw, err = cborx.MarshalCanonical(fields)
	require.NoError(t, err)
	_, err = UnmarshalSpell(raw)
	assert.Error(t, err)

	var n NormalizedCharms
	assert.Error(t, n.UnmarshalCBOR([]byte{0xa2, 0x00, 0xf6, 0x00, 0xf6}))
	require.NoError(t, n.UnmarshalCBOR([]byte{0xa1, 0x00, 0xf6}))
	assert.True(t, n[0].IsEmpty())
}

func TestRefsAreASet(t *testing.T) {
	a, b := utxo(0x02, 0), utxo(0x01, 5)
	tx := NormalizedTransaction{Refs: []charms.UtxoId{a, b, a}, Outs: []NormalizedCharms{}}
	raw, err := tx.MarshalCBOR()
	require.NoError(t, err)
	var back NormalizedTransaction
	require.NoError(t, back.UnmarshalCBOR(raw))
	assert.Equal(t, []charms.UtxoId{b, a}, back.Refs)
}

func TestPayloadRoundTrip(t *testing.T) {
	ns, _, _, err := sourceSpell(t).Normalize()
	require.NoError(t, err)
	ns.Tx.Ins = nil
	raw, err := EncodePayload(ns, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, byte(0x82), raw[0])

	back, proof, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, proof)
	r1, _ := ns.Marshal()
	r2, _ := back.Marshal()
	assert.Equal(t, r1, r2)

	_, _, err = DecodePayload(raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	ns, _, _, err := sourceSpell(t).Normalize()
	require.NoError(t, err)
	c := ns.Clone()
	c.Tx.Ins = nil
	c.Tx.Outs[0][5] = charms.Data{}
	assert.True(t, ns.Tx.HasIns())
	assert.NotContains(t, ns.Tx.Outs[0], uint64(5))
}
