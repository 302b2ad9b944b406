package proof

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/cborx"
	"github.com/RiemaLabs/charms-indexer/spell"
)

type publicValues struct {
	_       struct{} `cbor:",toarray"`
	SpellVK string
	Spell   *spell.NormalizedSpell
}

// EncodePublicValues serializes (spellVK, s) the way the given version
// commits to it.
func EncodePublicValues(version uint32, spellVK string, s *spell.NormalizedSpell) ([]byte, error) {
	st, err := StrategyFor(version)
	if err != nil {
		return nil, err
	}
	switch st.Encoding {
	case EncodingCBOR:
		return cborx.Marshal(publicValues{SpellVK: spellVK, Spell: s})
	case EncodingFramed:
		return frameSpell(spellVK, s), nil
	}
	return nil, fmt.Errorf("unknown public values encoding %d", st.Encoding)
}

// framer writes the zkVM's native serialization: fixed-width little-endian
// integers, u64 length prefixes for strings, sequences and maps, and a
// presence byte for optional fields.
type framer struct {
	buf []byte
}

func (f *framer) u8(v byte) {
	f.buf = append(f.buf, v)
}

func (f *framer) u32(v uint32) {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, v)
}

func (f *framer) u64(v uint64) {
	f.buf = binary.LittleEndian.AppendUint64(f.buf, v)
}

func (f *framer) bytes(b []byte) {
	f.u64(uint64(len(b)))
	f.buf = append(f.buf, b...)
}

func (f *framer) char(r rune) {
	f.buf = utf8.AppendRune(f.buf, r)
}

func (f *framer) utxo(u charms.UtxoId) {
	b := u.Bytes()
	f.bytes(b[:])
}

func (f *framer) charms(n spell.NormalizedCharms) {
	keys := n.Keys()
	f.u64(uint64(len(keys)))
	for _, k := range keys {
		f.u64(k)
		f.bytes(n[k].Bytes())
	}
}

func frameSpell(spellVK string, s *spell.NormalizedSpell) []byte {
	f := &framer{}
	f.bytes([]byte(spellVK))
	f.u32(s.Version)

	if s.Tx.Ins != nil {
		f.u8(1)
		f.u64(uint64(len(s.Tx.Ins)))
		for _, u := range s.Tx.Ins {
			f.utxo(u)
		}
	}
	f.u64(uint64(len(s.Tx.Refs)))
	for _, u := range s.Tx.Refs {
		f.utxo(u)
	}
	f.u64(uint64(len(s.Tx.Outs)))
	for _, n := range s.Tx.Outs {
		f.charms(n)
	}
	if s.Tx.BeamedOuts != nil {
		f.u8(1)
		keys := s.Tx.BeamedOuts.Keys()
		f.u64(uint64(len(keys)))
		for _, k := range keys {
			dest := s.Tx.BeamedOuts[k]
			f.u64(k)
			f.bytes(dest[:])
		}
	}

	apps := s.Apps()
	f.u64(uint64(len(apps)))
	for _, app := range apps {
		f.char(app.Tag)
		f.utxo(app.Identity)
		f.bytes(app.VK[:])
		f.bytes(s.AppPublicInputs[app].Bytes())
	}
	return f.buf
}
