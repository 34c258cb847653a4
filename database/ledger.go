package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"image-sentiment-pipeline/models"
)

// ErrNotFound is returned when no ledger record exists for an id.
var ErrNotFound = errors.New("request record not found")

// ErrAlreadyFinalized is returned when a terminal record is finalized again.
var ErrAlreadyFinalized = errors.New("request record already finalized")

// CreateRequest writes a new pending record. The record is visible to
// readers immediately.
func (d *Database) CreateRequest(record *models.RequestRecord) error {
	record.Status = models.StatusPending

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal request record: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO analysis_requests (id, status, requestor_ip, created_at, record) VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.Status, record.RequestorIP, record.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to create request record: %w", err)
	}
	return nil
}

// FinalizeRequest moves a pending record to its terminal state. It is a
// single write guarded on the pending status, so a record can only be
// finalized once.
func (d *Database) FinalizeRequest(record *models.RequestRecord) error {
	if !record.Terminal() {
		return fmt.Errorf("cannot finalize record %s with status %q", record.ID, record.Status)
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal request record: %w", err)
	}

	res, err := d.db.Exec(
		`UPDATE analysis_requests SET status = ?, record = ? WHERE id = ? AND status = 'pending'`,
		record.Status, doc, record.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize request record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finalize result: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// GetRequest reads a record by id. A pending record is returned as-is so
// callers can distinguish "still pending" from absence.
func (d *Database) GetRequest(id string) (*models.RequestRecord, error) {
	var doc []byte
	err := d.db.QueryRow(
		`SELECT record FROM analysis_requests WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request record: %w", err)
	}

	var record models.RequestRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request record: %w", err)
	}
	return &record, nil
}

// CountRequestsByStatus returns totals per lifecycle state.
func (d *Database) CountRequestsByStatus() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM analysis_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count request records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		counts[status] = count
	}
	return counts, nil
}
