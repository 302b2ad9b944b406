package apis

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/RiemaLabs/go-verkle"

	"github.com/RiemaLabs/charms-indexer/charms"
)

var ErrNotIncluded = errors.New("spell is not included under the commitment")

func ParseProof(proof string) (*verkle.VerkleProof, error) {
	vProofBytes, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return nil, err
	}
	var vProof verkle.VerkleProof
	err = vProof.UnmarshalJSON(vProofBytes)
	if err != nil {
		return nil, err
	}
	return &vProof, nil
}

func ParseCommitment(commitment string) (*verkle.Point, error) {
	bytes, err := base64.StdEncoding.DecodeString(commitment)
	if err != nil {
		return nil, err
	}
	var p verkle.Point
	err = p.SetBytes(bytes)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func value32(v []byte) *[32]byte {
	if len(v) == 0 {
		return nil
	}
	var aligned [32]byte
	copy(aligned[:], v)
	return &aligned
}

// ParseStateDiff groups keys by stem. Keys sharing a stem must be adjacent.
func ParseStateDiff(keys, preValues, postValues [][]byte) verkle.StateDiff {
	var stemdiff *verkle.StemStateDiff
	var statediff verkle.StateDiff
	for i, key := range keys {
		stem := verkle.KeyToStem(key)
		if stemdiff == nil || !bytes.Equal(stemdiff.Stem[:], stem) {
			statediff = append(statediff, verkle.StemStateDiff{})
			stemdiff = &statediff[len(statediff)-1]
			copy(stemdiff.Stem[:], stem)
		}
		stemdiff.SuffixDiffs = append(stemdiff.SuffixDiffs, verkle.SuffixStateDiff{
			Suffix:       key[verkle.StemSize],
			CurrentValue: value32(preValues[i]),
			NewValue:     value32(postValues[i]),
		})
	}
	return statediff
}

// VerifySpellInclusion checks that resp proves the spell of txid is
// committed under commitment.
func VerifySpellInclusion(commitment string, txid charms.TxId, resp *SpellInclusionResponse) error {
	if resp.Error != nil {
		return fmt.Errorf("failed to obtain the proof from committee indexer, error: %s", *resp.Error)
	}
	if resp.Result == nil || resp.Proof == nil {
		return ErrNotIncluded
	}
	if resp.Result.TxId != txid.String() {
		return fmt.Errorf("proof is for %s, not %s", resp.Result.TxId, txid)
	}
	rootC, err := ParseCommitment(commitment)
	if err != nil {
		return err
	}
	spellHash, err := base64.StdEncoding.DecodeString(resp.Result.SpellHash)
	if err != nil {
		return err
	}
	if len(spellHash) != 32 {
		return fmt.Errorf("spell hash has %d bytes", len(spellHash))
	}
	vProof, err := ParseProof(*resp.Proof)
	if err != nil {
		return err
	}

	stateDiff := ParseStateDiff([][]byte{txid[:]}, [][]byte{spellHash}, [][]byte{{}})
	preProof, err := verkle.DeserializeProof(vProof, stateDiff)
	if err != nil {
		return err
	}
	preRoot, err := verkle.PreStateTreeFromProof(preProof, rootC)
	if err != nil {
		return err
	}
	if err := verkle.VerifyVerkleProofWithPreState(preProof, preRoot); err != nil {
		return fmt.Errorf("%w: %v", ErrNotIncluded, err)
	}
	return nil
}
