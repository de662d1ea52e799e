// Package sqlite persists records in a SQLite table with the classic
// key/flags/exptime/hash/value layout, one row per key.
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/unkn0wn-root/slabcache/durable"
)

type row struct {
	Key     string `gorm:"column:key;primaryKey;size:250"`
	Flags   uint32 `gorm:"column:flags"`
	Exptime uint32 `gorm:"column:exptime"`
	Hash    uint32 `gorm:"column:hash"`
	Value   []byte `gorm:"column:value"`
}

func (row) TableName() string { return "kv" }

type Store struct {
	db        *gorm.DB
	scanBatch int
}

var _ durable.Store = (*Store)(nil)

type Config struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string

	// ScanBatch is the row batch size used by Scan. 0 => 256.
	ScanBatch int
}

// New opens (creating if needed) the database and ensures the kv table.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	s := &Store{db: db}
	if cfg.ScanBatch > 0 {
		s.scanBatch = cfg.ScanBatch
	} else {
		s.scanBatch = 256
	}
	return s, nil
}

func (s *Store) Upsert(ctx context.Context, rec durable.Record) error {
	rec = rec.WithHash()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"flags", "exptime", "hash", "value"}),
	}).Create(&row{
		Key:     rec.Key,
		Flags:   rec.Flags,
		Exptime: rec.Exptime,
		Hash:    rec.ContentHash,
		Value:   rec.Value,
	})
	if res.Error != nil {
		return fmt.Errorf("sqlite store: upsert %q: %w", rec.Key, res.Error)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, key string) (durable.Record, error) {
	var r row
	err := s.db.WithContext(ctx).First(&r, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return durable.Record{}, durable.ErrNotFound
	}
	if err != nil {
		return durable.Record{}, fmt.Errorf("sqlite store: fetch %q: %w", key, err)
	}
	rec := durable.Record{Key: r.Key, Flags: r.Flags, Exptime: r.Exptime, ContentHash: r.Hash, Value: r.Value}
	if !rec.VerifyHash() {
		return durable.Record{}, fmt.Errorf("sqlite store: fetch %q: %w", key, durable.ErrCorrupt)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&row{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("sqlite store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(durable.Record) error) error {
	var batch []row
	res := s.db.WithContext(ctx).FindInBatches(&batch, s.scanBatch, func(_ *gorm.DB, _ int) error {
		for _, r := range batch {
			rec := durable.Record{Key: r.Key, Flags: r.Flags, Exptime: r.Exptime, ContentHash: r.Hash, Value: r.Value}
			if !rec.VerifyHash() {
				return fmt.Errorf("sqlite store: scan %q: %w", r.Key, durable.ErrCorrupt)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
