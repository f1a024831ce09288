package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// WaveformSchemaVersion is the current waveform store schema
const WaveformSchemaVersion = 1

const waveformStoreName = "waveforms"

// WaveformEntry is a cached peak array
type WaveformEntry struct {
	URL       string    `gorm:"primaryKey;size:768"`
	Peaks     []float32 `gorm:"serializer:json;not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName overrides the gorm table name
func (WaveformEntry) TableName() string { return "waveform_entries" }

// WaveformStore persists peak arrays keyed by URL
type WaveformStore struct {
	db        *gorm.DB
	recreated bool
}

// OpenWaveformStore opens or creates the waveform store
func OpenWaveformStore(cfg Config) (*WaveformStore, error) {
	db, recreated, err := openDB(cfg, schema{
		name:    waveformStoreName,
		version: WaveformSchemaVersion,
		models:  []any{&WaveformEntry{}},
	})
	if err != nil {
		return nil, err
	}
	return &WaveformStore{db: db, recreated: recreated}, nil
}

// Recreated reports whether the store was rebuilt empty on open
func (s *WaveformStore) Recreated() bool {
	return s.recreated
}

// Get returns the peaks for url or ErrNotFound
func (s *WaveformStore) Get(ctx context.Context, url string) (*WaveformEntry, error) {
	var entry WaveformEntry
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_waveform", waveformStoreName)
	}
	return &entry, nil
}

// Put inserts or replaces the peaks for url
func (s *WaveformStore) Put(ctx context.Context, url string, peaks []float32) error {
	entry := &WaveformEntry{URL: url, Peaks: peaks, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"peaks", "created_at"}),
	}).Create(entry).Error
	if err != nil {
		return dbError(err, "put_waveform", waveformStoreName)
	}
	return nil
}

// Count returns the number of stored waveforms
func (s *WaveformStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&WaveformEntry{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_waveform", waveformStoreName)
	}
	return n, nil
}

// Clear deletes every waveform
func (s *WaveformStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&WaveformEntry{}).Error
	if err != nil {
		return dbError(err, "clear_waveform", waveformStoreName)
	}
	return nil
}

// Close releases the database
func (s *WaveformStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", waveformStoreName)
	}
	return sqlDB.Close()
}
