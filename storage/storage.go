// Package storage persists image blobs in MySQL and hands out stable URLs
// under the service's own storage domain.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"image-sentiment-pipeline/database"
)

// ErrBlobNotFound is returned when no blob exists for an id.
var ErrBlobNotFound = errors.New("blob not found")

// Store is a blob store keyed by opaque storage identifier.
type Store struct {
	db      *database.Database
	baseURL string
}

// NewStore creates a blob store serving URLs under baseURL.
func NewStore(db *database.Database, baseURL string) *Store {
	return &Store{
		db:      db,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put persists blob bytes under the given identifier.
func (s *Store) Put(id, contentType string, data []byte) error {
	_, err := s.db.GetDB().Exec(
		`INSERT INTO image_blobs (id, content_type, data) VALUES (?, ?, ?)`,
		id, contentType, data)
	if err != nil {
		return fmt.Errorf("failed to store blob %s: %w", id, err)
	}
	return nil
}

// Get returns the blob bytes and content type for an identifier.
func (s *Store) Get(id string) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := s.db.GetDB().QueryRow(
		`SELECT data, content_type FROM image_blobs WHERE id = ?`, id).
		Scan(&data, &contentType)
	if err == sql.ErrNoRows {
		return nil, "", ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, contentType, nil
}

// URL returns the public URL for a storage identifier.
func (s *Store) URL(id string) string {
	return s.baseURL + "/" + id
}

// Owns reports whether a URL already points into this store's domain.
// Such URLs bypass the dedup cache entirely.
func (s *Store) Owns(url string) bool {
	return strings.HasPrefix(url, s.baseURL+"/")
}
