package apis

import (
	"encoding/base64"
	"fmt"

	"github.com/RiemaLabs/charms-indexer/spell"
)

type ExtractRequest struct {
	TxHex string `json:"tx_hex" binding:"required"`
	Chain string `json:"chain"`
}

type CheckRequest struct {
	Spell   *spell.Spell `json:"spell" binding:"required"`
	PrevTxs []string     `json:"prev_txs"`
	// Base64 of the app binaries.
	AppBins []string `json:"app_bins"`
	Chain   string   `json:"chain"`
}

type CheckResult struct {
	Apps  []string `json:"apps"`
	Steps []uint64 `json:"steps"`
}

type CheckResponse struct {
	Error  *string      `json:"error"`
	Code   string       `json:"code,omitempty"`
	Result *CheckResult `json:"result"`
}

type CommitmentResult struct {
	Height     uint   `json:"height"`
	Hash       string `json:"hash"`
	Commitment string `json:"commitment"`
}

type SpellInclusionResult struct {
	TxId string `json:"txid"`
	// Base64 of sha256 of the spell wire bytes
	SpellHash string `json:"spellHash"`
	Height    uint   `json:"height"`
}

type SpellInclusionResponse struct {
	Error  *string               `json:"error"`
	Result *SpellInclusionResult `json:"result"`
	Proof  *string               `json:"proof"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func BatchDecodeBase64(items []string) ([][]byte, error) {
	out := make([][]byte, 0, len(items))
	for i, item := range items {
		raw, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("app binary %d is not valid base64: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
