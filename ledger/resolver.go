package ledger

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/spell"
)

// SpellCache remembers extraction results by CacheKey.
type SpellCache interface {
	Get(key [32]byte) (spell.PrevSpell, bool)
	Put(key [32]byte, prev spell.PrevSpell)
}

type Resolver struct {
	verifier Verifier
	cache    SpellCache
	workers  int
}

type ResolverOption func(*Resolver)

func WithCache(c SpellCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

func WithWorkers(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

func NewResolver(v Verifier, opts ...ResolverOption) *Resolver {
	r := &Resolver{verifier: v, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract returns the verified spell of tx, or nil when it carries none.
// Failing to extract or verify is not an error: most transactions have no
// spell.
func (r *Resolver) Extract(tx Tx) spell.PrevSpell {
	var key [32]byte
	if r.cache != nil {
		key = CacheKey(tx)
		if prev, ok := r.cache.Get(key); ok {
			return prev
		}
	}
	start := time.Now()
	prev := spell.PrevSpell{OutsLen: tx.OutsLen()}
	s, err := tx.ExtractAndVerify(r.verifier)
	metrics.ObserveExtract(string(tx.Chain()), start)
	if err != nil {
		metrics.Extractions.WithLabelValues(string(tx.Chain()), "none").Inc()
		logs.Debugf("No spell in %s tx %s: %v", tx.Chain(), tx.TxId(), err)
	} else {
		metrics.Extractions.WithLabelValues(string(tx.Chain()), "spell").Inc()
		prev.Spell = s
	}
	if r.cache != nil {
		r.cache.Put(key, prev)
	}
	return prev
}

// Resolve extracts the spells of the prerequisite transactions in parallel.
// The map is complete when Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, txs []Tx) (spell.PrevSpells, error) {
	results := make([]spell.PrevSpell, len(txs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, tx := range txs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.Extract(tx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	prev := make(spell.PrevSpells, len(txs))
	for i, tx := range txs {
		prev[tx.TxId()] = results[i]
	}
	return prev, nil
}

// PrevSpells resolves txs without a cache or cancellation.
func PrevSpells(txs []Tx, v Verifier) spell.PrevSpells {
	prev, _ := NewResolver(v).Resolve(context.Background(), txs)
	return prev
}
