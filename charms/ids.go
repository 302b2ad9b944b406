package charms

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

// TxId is a transaction hash in internal byte order. Its text form is the
// reversed hex used by block explorers.
type TxId [32]byte

func (t TxId) String() string {
	return chainhash.Hash(t).String()
}

func ParseTxId(s string) (TxId, error) {
	if len(s) != 2*chainhash.HashSize {
		return TxId{}, fmt.Errorf("txid must be %d hex characters, got %d", 2*chainhash.HashSize, len(s))
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return TxId{}, err
	}
	return TxId(*h), nil
}

func (t TxId) Compare(o TxId) int {
	return bytes.Compare(t[:], o[:])
}

func (t TxId) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TxId) UnmarshalText(text []byte) error {
	id, err := ParseTxId(string(text))
	if err != nil {
		return err
	}
	*t = id
	return nil
}

// UtxoIdSize is the length of the binary form of a UtxoId.
const UtxoIdSize = 36

// UtxoId names a transaction output.
type UtxoId struct {
	TxId  TxId
	Index uint32
}

// Bytes returns the txid followed by the little-endian output index.
func (u UtxoId) Bytes() [UtxoIdSize]byte {
	var b [UtxoIdSize]byte
	copy(b[:32], u.TxId[:])
	binary.LittleEndian.PutUint32(b[32:], u.Index)
	return b
}

func UtxoIdFromBytes(b []byte) (UtxoId, error) {
	if len(b) != UtxoIdSize {
		return UtxoId{}, fmt.Errorf("utxo id must be %d bytes, got %d", UtxoIdSize, len(b))
	}
	var u UtxoId
	copy(u.TxId[:], b[:32])
	u.Index = binary.LittleEndian.Uint32(b[32:])
	return u, nil
}

func (u UtxoId) String() string {
	return fmt.Sprintf("%s:%d", u.TxId, u.Index)
}

// ParseUtxoId parses the "txid:index" form.
func ParseUtxoId(s string) (UtxoId, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return UtxoId{}, fmt.Errorf("expected format txid:index, got %q", s)
	}
	txid, err := ParseTxId(parts[0])
	if err != nil {
		return UtxoId{}, fmt.Errorf("invalid txid in %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return UtxoId{}, fmt.Errorf("invalid index in %q: %w", s, err)
	}
	return UtxoId{TxId: txid, Index: uint32(idx)}, nil
}

func (u UtxoId) Compare(o UtxoId) int {
	if c := u.TxId.Compare(o.TxId); c != 0 {
		return c
	}
	switch {
	case u.Index < o.Index:
		return -1
	case u.Index > o.Index:
		return 1
	}
	return 0
}

// Hash is the SHA-256 of the binary form. Beamed outputs commit to it.
func (u UtxoId) Hash() B32 {
	b := u.Bytes()
	return B32(sha256.Sum256(b[:]))
}

func (u UtxoId) MarshalCBOR() ([]byte, error) {
	b := u.Bytes()
	return cborx.Marshal(b[:])
}

func (u *UtxoId) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cborx.Unmarshal(data, &b); err != nil {
		return err
	}
	id, err := UtxoIdFromBytes(b)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

func (u UtxoId) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UtxoId) UnmarshalText(text []byte) error {
	id, err := ParseUtxoId(string(text))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// B32 is a 32-byte hash, written as plain hex.
type B32 [32]byte

func (b B32) String() string {
	return hex.EncodeToString(b[:])
}

func ParseB32(s string) (B32, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return B32{}, err
	}
	if len(raw) != 32 {
		return B32{}, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	return B32(raw), nil
}

func (b B32) Compare(o B32) int {
	return bytes.Compare(b[:], o[:])
}

func (b B32) MarshalCBOR() ([]byte, error) {
	return cborx.Marshal(b[:])
}

func (b *B32) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cborx.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	*b = B32(raw)
	return nil
}

func (b B32) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *B32) UnmarshalText(text []byte) error {
	v, err := ParseB32(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
