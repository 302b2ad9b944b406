package checker

import (
	"context"
	"fmt"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/proof"
	"github.com/RiemaLabs/charms-indexer/spell"
)

// Prover produces the embedded payload of spells that pass Check.
type Prover struct {
	checker  *Checker
	registry *proof.Registry
	prover   *proof.Prover
}

func NewProver(c *Checker, registry *proof.Registry, prover *proof.Prover) *Prover {
	return &Prover{checker: c, registry: registry, prover: prover}
}

// Prove checks req and returns the payload [spell, proof]. The proof commits
// to the spell with its inputs; the embedded copy has them cleared since the
// host transaction supplies them.
func (p *Prover) Prove(ctx context.Context, req *Request) ([]byte, *Report, error) {
	if req.Spell.Version != p.prover.Version() {
		return nil, nil, fmt.Errorf("%w: prover is for version %d, spell has %d", proof.ErrUnsupportedVersion, p.prover.Version(), req.Spell.Version)
	}
	report, err := p.checker.Check(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	vk, err := p.registry.SpellVK(req.Spell.Version)
	if err != nil {
		return nil, nil, err
	}
	pv, err := p.registry.PublicValues(req.Spell)
	if err != nil {
		return nil, nil, err
	}
	proofBytes, err := p.prover.Prove(vk, pv)
	if err != nil {
		return nil, nil, fmt.Errorf("error during proving: %w", err)
	}
	embedded := req.Spell.Clone()
	embedded.Tx.Ins = nil
	payload, err := spell.EncodePayload(embedded, proofBytes)
	if err != nil {
		return nil, nil, err
	}
	logs.Infof("Proved spell with %d outputs, payload is %d bytes", len(embedded.Tx.Outs), len(payload))
	return payload, report, nil
}
