package checkpoint

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const MetaProtocol = "charms"

type IndexerIdentification struct {
	URL          string
	Name         string
	Version      string
	MetaProtocol string
}

// Checkpoint is the commitment over the spells indexed up to a block.
type Checkpoint struct {
	// Base64 of the commitment of the verkle tree root
	Commitment string `json:"commitment"`
	// Hex of the BlockHash of the checkpoint
	Hash string `json:"hash"`
	// BlockHeight of the checkpoint
	Height string `json:"height"`
	// Protocol name used by the indexer, "charms"
	MetaProtocol string `json:"metaProtocol"`
	// Name of the indexer
	Name string `json:"name"`
	// URL of the indexer service
	URL string `json:"url"`
	// Version number of the indexer
	Version string `json:"version"`
}

type UploadRecord struct {
	Success bool
}

// UploadHistory records, per height, the outcome of each uploader.
type UploadHistory = map[uint]map[string]UploadRecord

func NewCheckpoint(indexID *IndexerIdentification, height uint, hash string, commitment [32]byte) Checkpoint {
	metaProtocol := indexID.MetaProtocol
	if metaProtocol == "" {
		metaProtocol = MetaProtocol
	}
	return Checkpoint{
		URL:          indexID.URL,
		Name:         indexID.Name,
		Version:      indexID.Version,
		MetaProtocol: metaProtocol,
		Height:       strconv.FormatUint(uint64(height), 10),
		Hash:         hash,
		Commitment:   base64.StdEncoding.EncodeToString(commitment[:]),
	}
}

// ObjectKey names the checkpoint in object stores.
func (c *Checkpoint) ObjectKey() string {
	return fmt.Sprintf("checkpoint-%s-%s-%s-%s.json", c.Name, c.MetaProtocol, c.Height, c.Hash)
}

func (c *Checkpoint) BlockHeight() (uint, error) {
	h, err := strconv.ParseUint(c.Height, 10, 64)
	return uint(h), err
}

func IsValidNamespaceID(nID string) bool {
	if strings.HasPrefix(nID, "0x") {
		_, err := strconv.ParseUint(nID[2:], 16, 64)
		if err != nil {
			return false
		}
	} else {
		_, err := strconv.ParseUint(nID, 10, 64)
		if err != nil {
			return false
		}
	}
	return true
}
