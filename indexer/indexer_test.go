package indexer_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/checkpoint"
	"github.com/RiemaLabs/charms-indexer/getter"
	"github.com/RiemaLabs/charms-indexer/indexer"
	"github.com/RiemaLabs/charms-indexer/internal/spelltest"
	"github.com/RiemaLabs/charms-indexer/internal/tree"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
	"github.com/RiemaLabs/charms-indexer/storage"
)

type memStore struct {
	mu      sync.Mutex
	byBlock map[uint][]*storage.SpellRecord
}

func (m *memStore) SaveBlock(height uint, records []*storage.SpellRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byBlock[height] = records
	return nil
}

// flakyStore fails SaveBlock until fail is cleared.
type flakyStore struct {
	memStore
	fail bool
}

func (f *flakyStore) SaveBlock(height uint, records []*storage.SpellRecord) error {
	if f.fail {
		return errors.New("database is down")
	}
	return f.memStore.SaveBlock(height, records)
}

type countingUploader struct {
	mu      sync.Mutex
	heights []string
}

func (c *countingUploader) Name() string { return "memory" }

func (c *countingUploader) Upload(_ context.Context, cp *checkpoint.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heights = append(c.heights, cp.Height)
	return nil
}

func nftSpell(ins []charms.UtxoId) *spell.NormalizedSpell {
	app := charms.App{Tag: charms.NFT, Identity: charms.UtxoId{TxId: spelltest.Hash("nft")}, VK: charms.B32{4}}
	return &spell.NormalizedSpell{
		Version:         spell.CurrentVersion,
		Tx:              spell.NormalizedTransaction{Ins: ins, Refs: []charms.UtxoId{}, Outs: []spell.NormalizedCharms{{0: charms.MustData("x")}}},
		AppPublicInputs: spell.AppInputs{app: {}},
	}
}

func TestIndexer(t *testing.T) {
	reg, _ := spelltest.Setup(t)
	ins := []charms.UtxoId{{TxId: spelltest.Hash("coin")}}
	withSpell := spelltest.BitcoinTx(t, ins, 1, spelltest.Payload(t, nftSpell(ins)))
	plain := spelltest.BitcoinTx(t, ins, 2, nil)

	g := getter.NewMemoryGetter(100)
	g.AddBlock(plain.MsgTx())
	g.AddBlock(plain.MsgTx(), withSpell.MsgTx())
	g.AddBlock()
	g.AddBlock()

	dir := t.TempDir()
	tr, err := tree.OpenSpellTree(filepath.Join(dir, "tree"))
	require.NoError(t, err)
	empty := tr.Commitment()

	store := &memStore{byBlock: map[uint][]*storage.SpellRecord{}}
	uploader := &countingUploader{}
	cfg := indexer.Config{StartHeight: 100, Confirmations: 1, SnapshotDir: filepath.Join(dir, "snapshots")}
	ix := indexer.New(g, ledger.NewResolver(reg), tr, cfg,
		indexer.WithStore(store),
		indexer.WithReporter(checkpoint.NewReporter(0, uploader), checkpoint.IndexerIdentification{Name: "test"}))

	require.NoError(t, ix.CatchUp(context.Background(), 103))
	assert.Equal(t, uint(102), ix.Height())
	assert.Equal(t, []string{"100", "101", "102"}, uploader.heights)
	assert.NotEqual(t, empty, ix.Commitment())

	require.Len(t, store.byBlock[101], 1)
	assert.Empty(t, store.byBlock[100])
	record := store.byBlock[101][0]
	assert.Equal(t, withSpell.TxId().String(), record.TxId)

	committed, err := ix.Lookup(withSpell.TxId())
	require.NoError(t, err)
	want := sha256.Sum256(record.Spell)
	assert.Equal(t, want[:], committed)

	height, _, err := storage.LatestSnapshot(cfg.SnapshotDir)
	require.NoError(t, err)
	assert.Equal(t, uint(102), height)

	// Nothing new is confirmed.
	require.NoError(t, ix.CatchUp(context.Background(), 103))
	assert.Len(t, uploader.heights, 3)

	commitment := ix.Commitment()
	require.NoError(t, tr.Close())

	reopened, err := tree.OpenSpellTree(filepath.Join(dir, "tree"))
	require.NoError(t, err)
	defer reopened.Close()
	resumed := indexer.New(g, ledger.NewResolver(reg), reopened, cfg)
	assert.Equal(t, uint(102), resumed.Height())
	assert.Equal(t, commitment, resumed.Commitment())
	g.AddBlock()
	require.NoError(t, resumed.CatchUp(context.Background(), 104))
	assert.Equal(t, uint(103), resumed.Height())
}

func TestFailedSaveLeavesTreeUntouched(t *testing.T) {
	reg, _ := spelltest.Setup(t)
	ins := []charms.UtxoId{{TxId: spelltest.Hash("coin")}}
	withSpell := spelltest.BitcoinTx(t, ins, 1, spelltest.Payload(t, nftSpell(ins)))

	g := getter.NewMemoryGetter(100)
	g.AddBlock(withSpell.MsgTx())

	tr, err := tree.OpenSpellTree(filepath.Join(t.TempDir(), "tree"))
	require.NoError(t, err)
	defer tr.Close()
	empty := tr.Commitment()

	store := &flakyStore{memStore: memStore{byBlock: map[uint][]*storage.SpellRecord{}}, fail: true}
	ix := indexer.New(g, ledger.NewResolver(reg), tr, indexer.Config{StartHeight: 100, Confirmations: 1}, indexer.WithStore(store))

	assert.Error(t, ix.ProcessBlock(context.Background(), 100))
	assert.Equal(t, empty, ix.Commitment())
	assert.Equal(t, uint(0), ix.Height())
	value, err := ix.Lookup(withSpell.TxId())
	require.NoError(t, err)
	assert.Nil(t, value)

	store.fail = false
	require.NoError(t, ix.ProcessBlock(context.Background(), 100))
	assert.NotEqual(t, empty, ix.Commitment())
	assert.Equal(t, uint(100), ix.Height())
	require.Len(t, store.byBlock[100], 1)
}
