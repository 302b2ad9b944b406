// Package proof verifies and produces the Groth16 proofs attached to spells.
//
// Everything that differs between protocol versions is described once per
// version in the strategy table: the spell verification key identity, how the
// (vk, spell) pair is encoded as public values, and how those values map to
// the circuit's public inputs.
package proof

import (
	"errors"
	"fmt"

	"github.com/RiemaLabs/charms-indexer/spell"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrNoKeyMaterial      = errors.New("no verifying key loaded for protocol version")
	ErrInvalidProof       = errors.New("invalid proof")
)

// Encoding selects how public values are serialized.
type Encoding int

const (
	// EncodingFramed is the zkVM's native little-endian, length-prefixed
	// serialization.
	EncodingFramed Encoding = iota
	EncodingCBOR
)

// Shape selects how public values become circuit public inputs.
type Shape int

const (
	// ShapeVKeyDigest has two public inputs: the spell vk identity and the
	// SHA-256 of the public values with the top three bits cleared.
	ShapeVKeyDigest Shape = iota
	// ShapeDigest has one public input: the first 31 bytes of the SHA-256 of
	// the public values read as a little-endian integer.
	ShapeDigest
)

type Strategy struct {
	Version uint32
	// SpellVK is the pinned identity of the spell program. When empty the
	// identity is derived from the loaded verifying key.
	SpellVK  string
	Encoding Encoding
	Shape    Shape
}

var strategies = map[uint32]Strategy{
	spell.V0: {
		Version:  spell.V0,
		SpellVK:  "0x00e9398ac819e6dd281f81db3ada3fe5159c3cc40222b5ddb0e7584ed2327c5d",
		Encoding: EncodingFramed,
		Shape:    ShapeVKeyDigest,
	},
	spell.V1: {
		Version:  spell.V1,
		SpellVK:  "0x009f38f590ebca4c08c1e97b4064f39e4cd336eea4069669c5f5170a38a1ff97",
		Encoding: EncodingCBOR,
		Shape:    ShapeVKeyDigest,
	},
	spell.V2: {
		Version:  spell.V2,
		SpellVK:  "0x00bd312b6026dbe4a2c16da1e8118d4fea31587a4b572b63155252d2daf69280",
		Encoding: EncodingCBOR,
		Shape:    ShapeVKeyDigest,
	},
	spell.V3: {
		Version:  spell.V3,
		Encoding: EncodingCBOR,
		Shape:    ShapeDigest,
	},
}

// StrategyFor returns the strategy of a protocol version.
func StrategyFor(version uint32) (Strategy, error) {
	s, ok := strategies[version]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return s, nil
}

// Versions lists the supported protocol versions in ascending order.
func Versions() []uint32 {
	out := make([]uint32, 0, len(strategies))
	for v := spell.V0; v <= spell.CurrentVersion; v++ {
		if _, ok := strategies[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
