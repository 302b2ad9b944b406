package nubit_da

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/RiemaLabs/charms-indexer/checkpoint"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

// Submitter posts checkpoints as blobs through a DA node.
type Submitter struct {
	backend *NubitDABackend
}

func NewSubmitter(backend *NubitDABackend) *Submitter {
	return &Submitter{backend: backend}
}

func (s *Submitter) Name() string {
	return "da"
}

func (s *Submitter) Upload(ctx context.Context, c *checkpoint.Checkpoint) error {
	_, err := s.Submit(ctx, c)
	return err
}

// Submit posts c and returns its blob id.
func (s *Submitter) Submit(ctx context.Context, c *checkpoint.Checkpoint) ([]byte, error) {
	checkpointJSON, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to generate checkpoint, err: %v", err)
	}
	logs.Debugf("Building blob of %d bytes for checkpoint at height %s", len(checkpointJSON), c.Height)
	ctx, cancel := context.WithTimeout(ctx, s.backend.SubmitTimeout)
	defer cancel()
	ids, err := s.backend.Client.Submit(ctx, [][]byte{checkpointJSON}, -1, s.backend.Namespace)
	if err != nil {
		return nil, fmt.Errorf("blob submission failed: %w", err)
	}
	if len(ids) != 1 {
		return nil, fmt.Errorf("blob submission returned %d ids", len(ids))
	}
	logs.Infof("Checkpoint blob submitted with id %s", hex.EncodeToString(ids[0]))
	return ids[0], nil
}

// Fetch reads back checkpoints by blob id.
func (s *Submitter) Fetch(ctx context.Context, ids [][]byte) ([]checkpoint.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.backend.FetchTimeout)
	defer cancel()
	blobs, err := s.backend.Client.Get(ctx, ids, s.backend.Namespace)
	if err != nil {
		return nil, err
	}
	out := make([]checkpoint.Checkpoint, 0, len(blobs))
	for _, b := range blobs {
		var c checkpoint.Checkpoint
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint blob: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
