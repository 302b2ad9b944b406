package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/spell"
)

func TestSnapshots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	_, _, err := LatestSnapshot(dir)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	for h := uint(10); h <= 14; h++ {
		require.NoError(t, SaveSnapshot(dir, h, []byte{byte(h)}, h-2))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	height, data, err := LatestSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, uint(14), height)
	assert.Equal(t, []byte{14}, data)

	heights, err := snapshotHeights(dir)
	require.NoError(t, err)
	assert.Len(t, heights, 3)
	assert.NotContains(t, heights, uint(11))
}

func TestSpellRecord(t *testing.T) {
	app := charms.App{Tag: charms.NFT, VK: charms.B32{3}}
	s := &spell.NormalizedSpell{
		Version:         spell.CurrentVersion,
		Tx:              spell.NormalizedTransaction{Refs: []charms.UtxoId{}, Outs: []spell.NormalizedCharms{{0: charms.MustData("art")}}},
		AppPublicInputs: spell.AppInputs{app: {}},
	}
	txid := charms.TxId{9}
	r, err := NewSpellRecord("bitcoin", 840000, "00ff", txid, s, 1)
	require.NoError(t, err)
	assert.Equal(t, txid.String(), r.TxId)

	got, err := r.NormalizedSpell()
	require.NoError(t, err)
	assert.Equal(t, s.Apps(), got.Apps())
	assert.True(t, got.Tx.Outs[0][0].Equal(charms.MustData("art")))
}

func dryRun(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       DatabaseConfig{Host: "127.0.0.1", Port: "3306", User: "u", DBname: "charms"}.DSN(),
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestQueries(t *testing.T) {
	db := dryRun(t)
	stmt := db.Where("tx_id = ?", charms.TxId{1}.String()).First(&SpellRecord{}).Statement
	assert.Contains(t, stmt.SQL.String(), "FROM `spell_records` WHERE tx_id = ?")

	stmt = db.Where("block_height >= ?", 5).Delete(&SpellRecord{}).Statement
	assert.Contains(t, stmt.SQL.String(), "DELETE FROM `spell_records` WHERE block_height >= ?")
}

// TestStoreMySQL runs against a real server when CHARMS_TEST_MYSQL_DSN is set.
func TestStoreMySQL(t *testing.T) {
	dsn := os.Getenv("CHARMS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CHARMS_TEST_MYSQL_DSN is not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)

	s := &spell.NormalizedSpell{Version: spell.CurrentVersion, Tx: spell.NormalizedTransaction{Refs: []charms.UtxoId{}}, AppPublicInputs: spell.AppInputs{}}
	r, err := NewSpellRecord("bitcoin", 7, "aa", charms.TxId{7}, s, 1)
	require.NoError(t, err)
	require.NoError(t, store.SaveBlock(7, []*SpellRecord{r}))

	got, err := store.GetSpell(charms.TxId{7})
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.BlockHeight)
	height, err := store.LatestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint(7), height)

	require.NoError(t, store.SaveBlock(7, nil))
	_, err = store.GetSpell(charms.TxId{7})
	assert.ErrorIs(t, err, ErrNotFound)
}
