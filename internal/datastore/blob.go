package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// BlobSchemaVersion is the current blob store schema.
// 1: blob_entries table. 2: index on last_accessed for eviction scans.
const BlobSchemaVersion = 2

const blobStoreName = "blobs"

// BlobEntry is a cached media payload
type BlobEntry struct {
	URL          string    `gorm:"primaryKey;size:768"`
	Data         []byte    `gorm:"not null"`
	Size         int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index;not null"`
	LastAccessed time.Time `gorm:"index;not null"`
	Priority     int       `gorm:"not null"`
	AccessCount  int64     `gorm:"not null"`
}

// TableName overrides the gorm table name
func (BlobEntry) TableName() string { return "blob_entries" }

// BlobStore persists media payloads keyed by URL
type BlobStore struct {
	db        *gorm.DB
	recreated bool
}

// OpenBlobStore opens or creates the blob store
func OpenBlobStore(cfg Config) (*BlobStore, error) {
	db, recreated, err := openDB(cfg, schema{
		name:    blobStoreName,
		version: BlobSchemaVersion,
		models:  []any{&BlobEntry{}},
	})
	if err != nil {
		return nil, err
	}
	return &BlobStore{db: db, recreated: recreated}, nil
}

// Recreated reports whether the store was rebuilt empty on open
func (s *BlobStore) Recreated() bool {
	return s.recreated
}

// SchemaVersion returns the recorded schema version
func (s *BlobStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db, blobStoreName)
}

// Get returns the entry for url or ErrNotFound
func (s *BlobStore) Get(ctx context.Context, url string) (*BlobEntry, error) {
	var entry BlobEntry
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_blob", blobStoreName)
	}
	return &entry, nil
}

// CreatedAt returns the creation time of url without loading its payload,
// or ErrNotFound
func (s *BlobStore) CreatedAt(ctx context.Context, url string) (time.Time, error) {
	var created []time.Time
	err := s.db.WithContext(ctx).Model(&BlobEntry{}).
		Where("url = ?", url).
		Limit(1).
		Pluck("created_at", &created).Error
	if err != nil {
		return time.Time{}, dbError(err, "stat_blob", blobStoreName)
	}
	if len(created) == 0 {
		return time.Time{}, ErrNotFound
	}
	return created[0], nil
}

// Put inserts or replaces an entry
func (s *BlobStore) Put(ctx context.Context, entry *BlobEntry) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"data", "size", "created_at", "last_accessed", "priority", "access_count",
		}),
	}).Create(entry).Error
	if err != nil {
		return dbError(err, "put_blob", blobStoreName)
	}
	return nil
}

// Touch records an access to url
func (s *BlobStore) Touch(ctx context.Context, url string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&BlobEntry{}).
		Where("url = ?", url).
		Updates(map[string]any{
			"last_accessed": at,
			"access_count":  gorm.Expr("access_count + 1"),
		}).Error
	if err != nil {
		return dbError(err, "touch_blob", blobStoreName)
	}
	return nil
}

// Delete removes entries by URL
func (s *BlobStore) Delete(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("url IN ?", urls).Delete(&BlobEntry{}).Error; err != nil {
		return dbError(err, "delete_blob", blobStoreName)
	}
	return nil
}

// Usage returns the entry count and total payload bytes
func (s *BlobStore) Usage(ctx context.Context) (count, bytes int64, err error) {
	var row struct {
		Count int64
		Bytes int64
	}
	err = s.db.WithContext(ctx).Model(&BlobEntry{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Scan(&row).Error
	if err != nil {
		return 0, 0, dbError(err, "usage", blobStoreName)
	}
	return row.Count, row.Bytes, nil
}

// LeastRecentlyAccessed returns up to n URLs ordered by last access, oldest first
func (s *BlobStore) LeastRecentlyAccessed(ctx context.Context, n int) ([]string, error) {
	var urls []string
	err := s.db.WithContext(ctx).Model(&BlobEntry{}).
		Order("last_accessed ASC").
		Limit(n).
		Pluck("url", &urls).Error
	if err != nil {
		return nil, dbError(err, "list_lru", blobStoreName)
	}
	return urls, nil
}

// PurgeCreatedBefore deletes entries created before cutoff
func (s *BlobStore) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&BlobEntry{})
	if res.Error != nil {
		return 0, dbError(res.Error, "purge_blob", blobStoreName)
	}
	return res.RowsAffected, nil
}

// Clear deletes every entry
func (s *BlobStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&BlobEntry{}).Error
	if err != nil {
		return dbError(err, "clear_blob", blobStoreName)
	}
	return nil
}

// Close releases the database
func (s *BlobStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", blobStoreName)
	}
	return sqlDB.Close()
}
