package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/consensys/gnark/frontend"
)

// DigestCircuit commits to one public digest.
type DigestCircuit struct {
	Digest   frontend.Variable `gnark:",public"`
	Preimage frontend.Variable
}

func (c *DigestCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.Digest, c.Preimage)
	return nil
}

// VKeyDigestCircuit commits to a program identity and a public values digest.
type VKeyDigestCircuit struct {
	VKeyHash              frontend.Variable `gnark:",public"`
	CommittedValuesDigest frontend.Variable `gnark:",public"`
	VKey                  frontend.Variable
	Values                frontend.Variable
}

func (c *VKeyDigestCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.VKeyHash, c.VKey)
	api.AssertIsEqual(c.CommittedValuesDigest, c.Values)
	return nil
}

func circuitFor(shape Shape) frontend.Circuit {
	if shape == ShapeDigest {
		return &DigestCircuit{}
	}
	return &VKeyDigestCircuit{}
}

// assignment returns the full assignment of the circuit for the given shape.
func assignment(shape Shape, spellVK string, publicValues []byte) (frontend.Circuit, error) {
	switch shape {
	case ShapeDigest:
		d := digestInput(publicValues)
		return &DigestCircuit{Digest: d, Preimage: d}, nil
	case ShapeVKeyDigest:
		vk, err := vkeyInput(spellVK)
		if err != nil {
			return nil, err
		}
		d := maskedDigestInput(publicValues)
		return &VKeyDigestCircuit{VKeyHash: vk, CommittedValuesDigest: d, VKey: vk, Values: d}, nil
	}
	return nil, fmt.Errorf("unknown circuit shape %d", shape)
}

func digestInput(publicValues []byte) *big.Int {
	d := sha256.Sum256(publicValues)
	le := slices.Clone(d[:31])
	slices.Reverse(le)
	return new(big.Int).SetBytes(le)
}

func maskedDigestInput(publicValues []byte) *big.Int {
	d := sha256.Sum256(publicValues)
	d[0] &= 0x1f
	return new(big.Int).SetBytes(d[:])
}

func vkeyInput(spellVK string) (*big.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(spellVK, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid spell vk %q: %w", spellVK, err)
	}
	return new(big.Int).SetBytes(raw), nil
}
