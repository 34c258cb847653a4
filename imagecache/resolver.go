// Package imagecache deduplicates source image URLs. Each distinct external
// URL is fetched and persisted once; later submissions of the same URL reuse
// the stored copy without any network traffic.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"image-sentiment-pipeline/database"
	"image-sentiment-pipeline/metrics"
	"image-sentiment-pipeline/storage"

	"github.com/apex/log"
	"github.com/google/uuid"
)

var (
	// ErrFetchFailed means the source URL could not be fetched or did not
	// declare a content type.
	ErrFetchFailed = errors.New("failed to fetch source image")

	// ErrPersistFailed means the blob or mapping write failed after a
	// successful fetch.
	ErrPersistFailed = errors.New("failed to persist source image")
)

// Resolver resolves external source URLs to canonical storage URLs.
type Resolver struct {
	db     *database.Database
	store  *storage.Store
	client *http.Client
}

// NewResolver creates a resolver backed by the given cache table and store.
func NewResolver(db *database.Database, store *storage.Store) *Resolver {
	return &Resolver{
		db:    db,
		store: store,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Resolve returns a canonical URL for sourceURL. URLs already under the
// store's own domain are returned unchanged. A cache hit returns the stored
// reference without fetching. A miss fetches, persists and records the
// mapping before returning the new canonical URL.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (string, error) {
	if r.store.Owns(sourceURL) {
		return sourceURL, nil
	}

	// A lookup error is neither a fetch nor a persist failure; callers
	// only need to know resolution did not happen.
	entry, err := r.db.LookupImage(sourceURL)
	if err != nil {
		return "", err
	}
	if entry != nil {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return r.store.URL(entry.StorageID), nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	data, contentType, err := r.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	storageID := newStorageID(contentType)
	if err := r.store.Put(storageID, contentType, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := r.db.SaveImageMapping(&database.CacheEntry{
		SourceURL:   sourceURL,
		ContentType: contentType,
		StorageID:   storageID,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	log.Infof("Cached source image %s as %s (%s, %d bytes)", sourceURL, storageID, contentType, len(data))
	return r.store.URL(storageID), nil
}

// fetch downloads the source bytes. A missing Content-Type header is an
// error because the extension of the storage id is derived from it.
func (r *Resolver) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: source returned status %d", ErrFetchFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return nil, "", fmt.Errorf("%w: source did not declare a content type", ErrFetchFailed)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, contentType, nil
}

// newStorageID builds a globally unique identifier with a file extension
// derived from the content-type subtype.
func newStorageID(contentType string) string {
	subtype := contentType
	if idx := strings.Index(subtype, ";"); idx != -1 {
		subtype = subtype[:idx]
	}
	if idx := strings.Index(subtype, "/"); idx != -1 {
		subtype = subtype[idx+1:]
	}
	subtype = strings.TrimSpace(subtype)
	if subtype == "" {
		subtype = "bin"
	}
	return uuid.New().String() + "." + subtype
}
