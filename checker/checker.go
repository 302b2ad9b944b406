// Package checker decides whether a spell is a correct transition: its prior
// transactions resolve, it is well formed against them and every app contract
// accepts the resolved transaction.
package checker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

const (
	MISSING_PREREQUISITE  spell.ErrorCode = "MISSING_PREREQUISITE"
	PREREQUISITE_MISMATCH spell.ErrorCode = "PREREQUISITE_MISMATCH"
	APP_CONTRACT_FAILED   spell.ErrorCode = "APP_CONTRACT_FAILED"
)

type Request struct {
	Spell         *spell.NormalizedSpell
	Hints         spell.BeamHints
	PrevTxs       []ledger.Tx
	AppBinaries   map[charms.B32][]byte
	PrivateInputs spell.AppInputs
	Budget        apprunner.Budget
}

// NewRequest normalizes a source spell into a request.
func NewRequest(s *spell.Spell, prevTxs []ledger.Tx, binaries [][]byte) (*Request, error) {
	ns, private, hints, err := s.Normalize()
	if err != nil {
		return nil, err
	}
	req := &Request{
		Spell:         ns,
		Hints:         hints,
		PrevTxs:       prevTxs,
		AppBinaries:   make(map[charms.B32][]byte, len(binaries)),
		PrivateInputs: private,
		Budget:        apprunner.DefaultBudget(),
	}
	for _, b := range binaries {
		req.AppBinaries[apprunner.VK(b)] = b
	}
	return req, nil
}

type Report struct {
	Tx    *charms.Transaction
	Apps  []charms.App
	Steps []uint64
}

type Checker struct {
	resolver *ledger.Resolver
	runner   *apprunner.Runner
}

func New(resolver *ledger.Resolver, runner *apprunner.Runner) *Checker {
	return &Checker{resolver: resolver, runner: runner}
}

func (c *Checker) Check(ctx context.Context, req *Request) (report *Report, err error) {
	started := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
			if code := spell.CodeOf(err); code != "" {
				result = string(code)
			}
		}
		metrics.ObserveCheck(result, started)
	}()

	prev, err := c.resolver.Resolve(ctx, req.PrevTxs)
	if err != nil {
		return nil, err
	}
	if err := spell.Check(req.Spell, prev, req.Hints); err != nil {
		return nil, err
	}
	if err := matchPrerequisites(spell.PrevTxIds(req.Spell, req.Hints), prev); err != nil {
		return nil, err
	}

	tx, err := spell.ToTx(req.Spell, prev, req.Hints)
	if err != nil {
		return nil, err
	}
	steps, err := c.runner.RunAll(ctx, req.AppBinaries, tx, req.Spell.AppPublicInputs, req.PrivateInputs, req.Budget)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &spell.Error{Code: APP_CONTRACT_FAILED, Msg: err.Error()}
	}
	logs.Debugf("Spell with %d apps is correct, steps %v", len(steps), steps)
	return &Report{Tx: tx, Apps: req.Spell.Apps(), Steps: steps}, nil
}

// matchPrerequisites requires the resolved transactions to be exactly those
// the spell depends on.
func matchPrerequisites(needed map[charms.TxId]struct{}, prev spell.PrevSpells) error {
	var missing, extra []charms.TxId
	for id := range needed {
		if _, ok := prev[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id := range prev {
		if _, ok := needed[id]; !ok {
			extra = append(extra, id)
		}
	}
	if len(missing) > 0 {
		slices.SortFunc(missing, charms.TxId.Compare)
		return &spell.Error{Code: MISSING_PREREQUISITE, Msg: fmt.Sprintf("prior transactions %v are not provided", missing)}
	}
	if len(extra) > 0 {
		slices.SortFunc(extra, charms.TxId.Compare)
		return &spell.Error{Code: PREREQUISITE_MISMATCH, Msg: fmt.Sprintf("prior transactions %v are not used by the spell", extra)}
	}
	return nil
}
