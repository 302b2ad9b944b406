package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/RiemaLabs/charms-indexer/spell"
)

// Registry holds the verifying keys of the supported protocol versions. It
// is built once at startup and never mutated.
type Registry struct {
	keys     map[uint32]groth16.VerifyingKey
	spellVKs map[uint32]string
}

// NewRegistry parses serialized BN254 Groth16 verifying keys per version.
func NewRegistry(material map[uint32][]byte) (*Registry, error) {
	r := &Registry{
		keys:     make(map[uint32]groth16.VerifyingKey, len(material)),
		spellVKs: make(map[uint32]string, len(strategies)),
	}
	for version, st := range strategies {
		if st.SpellVK != "" {
			r.spellVKs[version] = st.SpellVK
		}
	}
	for version, raw := range material {
		st, err := StrategyFor(version)
		if err != nil {
			return nil, err
		}
		vk := groth16.NewVerifyingKey(ecc.BN254)
		if _, err := vk.ReadFrom(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to read verifying key for version %d: %w", version, err)
		}
		r.keys[version] = vk
		if st.SpellVK == "" {
			r.spellVKs[version] = ContentVK(raw)
		}
	}
	return r, nil
}

// LoadRegistry reads verifying key files per version.
func LoadRegistry(paths map[uint32]string) (*Registry, error) {
	material := make(map[uint32][]byte, len(paths))
	for version, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read verifying key for version %d: %w", version, err)
		}
		material[version] = raw
	}
	return NewRegistry(material)
}

// ContentVK is the identity of a spell program given by its verifying key.
func ContentVK(vk []byte) string {
	h := sha256.Sum256(vk)
	return "0x" + hex.EncodeToString(h[:])
}

// SpellVK returns the spell program identity of a version.
func (r *Registry) SpellVK(version uint32) (string, error) {
	if _, err := StrategyFor(version); err != nil {
		return "", err
	}
	vk, ok := r.spellVKs[version]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoKeyMaterial, version)
	}
	return vk, nil
}

// HasKey reports whether proofs of the version can be verified.
func (r *Registry) HasKey(version uint32) bool {
	_, ok := r.keys[version]
	return ok
}

// PublicValues encodes the spell as committed by proofs of its version.
func (r *Registry) PublicValues(s *spell.NormalizedSpell) ([]byte, error) {
	vk, err := r.SpellVK(s.Version)
	if err != nil {
		return nil, err
	}
	return EncodePublicValues(s.Version, vk, s)
}

// Verify checks a proof over public values under the version's key.
func (r *Registry) Verify(version uint32, proofBytes, publicValues []byte) error {
	st, err := StrategyFor(version)
	if err != nil {
		return err
	}
	key, ok := r.keys[version]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoKeyMaterial, version)
	}
	vk, err := r.SpellVK(version)
	if err != nil {
		return err
	}

	p := groth16.NewProof(ecc.BN254)
	n, err := p.ReadFrom(bytes.NewReader(proofBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if n != int64(len(proofBytes)) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidProof, int64(len(proofBytes))-n)
	}
	a, err := assignment(st.Shape, vk, publicValues)
	if err != nil {
		return err
	}
	w, err := frontend.NewWitness(a, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	if err := groth16.Verify(p, key, w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// VerifySpell checks that proof attests to s.
func (r *Registry) VerifySpell(s *spell.NormalizedSpell, proofBytes []byte) error {
	pv, err := r.PublicValues(s)
	if err != nil {
		return err
	}
	return r.Verify(s.Version, proofBytes, pv)
}
