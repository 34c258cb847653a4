package database

import (
	"database/sql"
	"fmt"
)

// CacheEntry maps a source URL to a previously persisted blob.
type CacheEntry struct {
	SourceURL   string
	ContentType string
	StorageID   string
}

// LookupImage returns the cache entry for an exact source URL match, or
// (nil, nil) when none exists.
func (d *Database) LookupImage(sourceURL string) (*CacheEntry, error) {
	var entry CacheEntry
	err := d.db.QueryRow(
		`SELECT source_url, content_type, storage_id FROM image_cache WHERE source_url = ?`,
		sourceURL).Scan(&entry.SourceURL, &entry.ContentType, &entry.StorageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up image cache: %w", err)
	}
	return &entry, nil
}

// SaveImageMapping records a source URL to storage id mapping. The mapping
// is append-only; a duplicate source URL is an error.
func (d *Database) SaveImageMapping(entry *CacheEntry) error {
	_, err := d.db.Exec(
		`INSERT INTO image_cache (source_url, content_type, storage_id) VALUES (?, ?, ?)`,
		entry.SourceURL, entry.ContentType, entry.StorageID)
	if err != nil {
		return fmt.Errorf("failed to save image mapping: %w", err)
	}
	return nil
}
