// Package indexer follows the Bitcoin chain and records every verified spell
// in a verkle commitment, a database and per-block checkpoints.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/checkpoint"
	"github.com/RiemaLabs/charms-indexer/getter"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/internal/tree"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/storage"
)

// snapshotsKept is how many per-block snapshots stay on disk.
const snapshotsKept = 2000

type Config struct {
	StartHeight   uint          `mapstructure:"startHeight" json:"startHeight"`
	Confirmations uint          `mapstructure:"confirmations" json:"confirmations"`
	Interval      time.Duration `mapstructure:"interval" json:"interval"`
	SnapshotDir   string        `mapstructure:"snapshotDir" json:"snapshotDir"`
}

// SpellStore persists the spells of a block.
type SpellStore interface {
	SaveBlock(height uint, records []*storage.SpellRecord) error
}

type Indexer struct {
	getter   getter.TxGetter
	resolver *ledger.Resolver
	tree     *tree.SpellTree
	store    SpellStore
	reporter *checkpoint.Reporter
	id       checkpoint.IndexerIdentification
	cfg      Config

	mu     sync.RWMutex
	height uint
	hash   string
}

type Option func(*Indexer)

func WithStore(s SpellStore) Option {
	return func(ix *Indexer) { ix.store = s }
}

func WithReporter(r *checkpoint.Reporter, id checkpoint.IndexerIdentification) Option {
	return func(ix *Indexer) {
		ix.reporter = r
		ix.id = id
	}
}

func New(g getter.TxGetter, resolver *ledger.Resolver, t *tree.SpellTree, cfg Config, opts ...Option) *Indexer {
	ix := &Indexer{getter: g, resolver: resolver, tree: t, cfg: cfg, height: uint(t.Height())}
	if cfg.Interval <= 0 {
		ix.cfg.Interval = time.Minute
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Height is the last processed block height, 0 before the first block.
func (ix *Indexer) Height() uint {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.height
}

func (ix *Indexer) BlockHash() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.hash
}

func (ix *Indexer) Commitment() [32]byte {
	return ix.tree.Commitment()
}

// Lookup returns the committed hash of the spell of txid.
func (ix *Indexer) Lookup(txid charms.TxId) ([]byte, error) {
	return ix.tree.Get(txid[:])
}

// Prove returns the base64 JSON of a verkle proof for the entry of txid.
func (ix *Indexer) Prove(txid charms.TxId) (string, error) {
	proof, _, err := ix.tree.Prove([][]byte{txid[:]})
	if err != nil {
		return "", err
	}
	raw, err := proof.MarshalJSON()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (ix *Indexer) next() uint {
	h := ix.Height()
	if h == 0 || h < ix.cfg.StartHeight {
		return ix.cfg.StartHeight
	}
	return h + 1
}

type leaf struct {
	txid  charms.TxId
	value [32]byte
}

// ProcessBlock indexes the spells of the block at height.
func (ix *Indexer) ProcessBlock(ctx context.Context, height uint) error {
	hash, err := ix.getter.GetBlockHash(height)
	if err != nil {
		return err
	}
	block, err := ix.getter.GetBlock(height)
	if err != nil {
		return err
	}
	txs := make([]ledger.Tx, 0, len(block.Transactions))
	for _, msg := range block.Transactions {
		txs = append(txs, ledger.NewBitcoinTx(msg))
	}
	prev, err := ix.resolver.Resolve(ctx, txs)
	if err != nil {
		return err
	}

	var (
		records []*storage.SpellRecord
		leaves  []leaf
	)
	for _, tx := range txs {
		p := prev[tx.TxId()]
		if p.Spell == nil {
			continue
		}
		raw, err := p.Spell.Marshal()
		if err != nil {
			return err
		}
		txid := tx.TxId()
		leaves = append(leaves, leaf{txid: txid, value: sha256.Sum256(raw)})
		r, err := storage.NewSpellRecord(string(ledger.Bitcoin), height, hash, txid, p.Spell, p.OutsLen)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	// The tree only commits to blocks the store holds. SaveBlock replaces
	// the block, so a retry after a failed insert is safe.
	if ix.store != nil {
		started := time.Now()
		err := ix.store.SaveBlock(height, records)
		metrics.ObserveDBQuery("save_block", started)
		if err != nil {
			return fmt.Errorf("error during saving spells at height %d: %w", height, err)
		}
	}
	for _, l := range leaves {
		if err := ix.tree.Insert(l.txid[:], l.value[:]); err != nil {
			return fmt.Errorf("error during committing spell %s: %w", l.txid, err)
		}
	}
	if err := ix.tree.SetHeight(uint64(height)); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.height, ix.hash = height, hash
	ix.mu.Unlock()
	metrics.CurrentHeight.Set(float64(height))
	metrics.IndexedSpells.Add(float64(len(records)))
	if len(records) > 0 {
		logs.Infof("Indexed %d spells at height %d", len(records), height)
	}

	ix.checkpoint(ctx, height, hash)
	return nil
}

func (ix *Indexer) checkpoint(ctx context.Context, height uint, hash string) {
	c := checkpoint.NewCheckpoint(&ix.id, height, hash, ix.tree.Commitment())
	if ix.cfg.SnapshotDir != "" {
		data, err := json.Marshal(c)
		if err == nil {
			var evict uint
			if height > snapshotsKept {
				evict = height - snapshotsKept
			}
			err = storage.SaveSnapshot(ix.cfg.SnapshotDir, height, data, evict)
		}
		if err != nil {
			logs.Warnf("Failed to store the snapshot at height %d due to %v", height, err)
		}
	}
	if ix.reporter != nil {
		ix.reporter.Report(ctx, &c)
	}
}

// CatchUp indexes every confirmed block up to latest.
func (ix *Indexer) CatchUp(ctx context.Context, latest uint) error {
	if latest < ix.cfg.Confirmations {
		return nil
	}
	target := latest - ix.cfg.Confirmations
	from := ix.next()
	if from > target {
		return nil
	}
	logs.Infof("Catching up from %d to %d", from, target)
	for h := from; h <= target; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.ProcessBlock(ctx, h); err != nil {
			return fmt.Errorf("error during processing block %d: %w", h, err)
		}
		if h%1000 == 0 {
			logs.Infof("Blocks: %d / %d", h, target)
		}
	}
	return nil
}

// Run catches up and then follows new blocks until ctx is done.
func (ix *Indexer) Run(ctx context.Context) error {
	metrics.Stage.Set(metrics.StageCatchup)
	latest, err := ix.getter.GetLatestBlockHeight()
	if err != nil {
		return fmt.Errorf("failed to get the latest block height: %w", err)
	}
	if err := ix.CatchUp(ctx, latest); err != nil {
		return err
	}
	metrics.Stage.Set(metrics.StageServing)

	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		latest, err := ix.getter.GetLatestBlockHeight()
		if err != nil {
			logs.Warnf("Failed to get the latest block height due to %v", err)
			continue
		}
		metrics.Stage.Set(metrics.StageUpdating)
		err = ix.CatchUp(ctx, latest)
		metrics.Stage.Set(metrics.StageServing)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		logs.Debugf("Listening for new Bitcoin block, current height: %d", latest)
	}
}
