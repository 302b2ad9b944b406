package proof

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Key file names written by Keys.Save.
const (
	ConstraintSystemFile = "spell.ccs"
	ProvingKeyFile       = "spell.pk"
	VerifyingKeyFile     = "spell.vk"
)

// Keys is the output of a Groth16 setup for one protocol version.
type Keys struct {
	Version uint32
	CS      constraint.ConstraintSystem
	PK      groth16.ProvingKey
	VK      groth16.VerifyingKey
}

// Setup compiles the version's circuit and runs a Groth16 setup for it.
func Setup(version uint32) (*Keys, error) {
	st, err := StrategyFor(version)
	if err != nil {
		return nil, err
	}
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuitFor(st.Shape))
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("failed to run setup: %w", err)
	}
	return &Keys{Version: version, CS: cs, PK: pk, VK: vk}, nil
}

// VerifyingKeyBytes is the serialized verifying key, as read by NewRegistry.
func (k *Keys) VerifyingKeyBytes() ([]byte, error) {
	return serialize(k.VK)
}

// Save writes the constraint system and both keys into dir.
func (k *Keys) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]io.WriterTo{
		ConstraintSystemFile: k.CS,
		ProvingKeyFile:       k.PK,
		VerifyingKeyFile:     k.VK,
	}
	for name, w := range files {
		raw, err := serialize(w)
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Prover produces proofs for one protocol version.
type Prover struct {
	version uint32
	cs      constraint.ConstraintSystem
	pk      groth16.ProvingKey
}

func (k *Keys) Prover() *Prover {
	return &Prover{version: k.Version, cs: k.CS, pk: k.PK}
}

// LoadProver reads a constraint system and proving key written by Keys.Save.
func LoadProver(version uint32, csPath, pkPath string) (*Prover, error) {
	if _, err := StrategyFor(version); err != nil {
		return nil, err
	}
	cs := groth16.NewCS(ecc.BN254)
	if err := readFile(csPath, cs); err != nil {
		return nil, fmt.Errorf("failed to read constraint system: %w", err)
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readFile(pkPath, pk); err != nil {
		return nil, fmt.Errorf("failed to read proving key: %w", err)
	}
	return &Prover{version: version, cs: cs, pk: pk}, nil
}

func (p *Prover) Version() uint32 {
	return p.version
}

// Prove proves knowledge of the public values under spellVK.
func (p *Prover) Prove(spellVK string, publicValues []byte) ([]byte, error) {
	st, err := StrategyFor(p.version)
	if err != nil {
		return nil, err
	}
	a, err := assignment(st.Shape, spellVK, publicValues)
	if err != nil {
		return nil, err
	}
	w, err := frontend.NewWitness(a, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	pr, err := groth16.Prove(p.cs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("failed to prove: %w", err)
	}
	return serialize(pr)
}

func serialize(w io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readFile(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.ReadFrom(f)
	return err
}
