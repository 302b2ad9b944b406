// Package storage persists indexed spells in MySQL and keeps per-height
// snapshots on disk.
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/spell"
)

var ErrNotFound = errors.New("spell not found")

type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	DBname   string `mapstructure:"dbname" json:"dbname"`
	Port     string `mapstructure:"port" json:"port"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC", c.User, c.Password, c.Host, c.Port, c.DBname)
}

// SpellRecord is a verified spell found in a block.
type SpellRecord struct {
	ID          uint   `gorm:"primaryKey"`
	TxId        string `gorm:"size:64;uniqueIndex"`
	Chain       string `gorm:"size:16"`
	BlockHeight uint   `gorm:"index"`
	BlockHash   string `gorm:"size:64"`
	Spell       []byte
	OutsLen     int
	CreatedAt   time.Time
}

func NewSpellRecord(chain string, height uint, blockHash string, txid charms.TxId, s *spell.NormalizedSpell, outsLen int) (*SpellRecord, error) {
	raw, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	return &SpellRecord{
		TxId:        txid.String(),
		Chain:       chain,
		BlockHeight: height,
		BlockHash:   blockHash,
		Spell:       raw,
		OutsLen:     outsLen,
	}, nil
}

func (r *SpellRecord) NormalizedSpell() (*spell.NormalizedSpell, error) {
	return spell.UnmarshalSpell(r.Spell)
}

type Store struct {
	db *gorm.DB
}

func Connect(cfg DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	return NewStore(db)
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SpellRecord{}); err != nil {
		return nil, fmt.Errorf("error during migrating spell records: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveBlock replaces whatever was recorded at height with records.
func (s *Store) SaveBlock(height uint, records []*SpellRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("block_height >= ?", height).Delete(&SpellRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(records).Error
	})
}

func (s *Store) GetSpell(txid charms.TxId) (*SpellRecord, error) {
	var r SpellRecord
	err := s.db.Where("tx_id = ?", txid.String()).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txid)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SpellsAt(height uint) ([]SpellRecord, error) {
	var rs []SpellRecord
	err := s.db.Where("block_height = ?", height).Order("id asc").Find(&rs).Error
	return rs, err
}

// LatestHeight is the highest height with a recorded spell, 0 if none.
func (s *Store) LatestHeight() (uint, error) {
	var height *uint
	err := s.db.Model(&SpellRecord{}).Select("MAX(block_height)").Scan(&height).Error
	if err != nil || height == nil {
		return 0, err
	}
	return *height, nil
}
