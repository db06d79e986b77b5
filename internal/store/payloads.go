package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// AnalysisPayload is a stored response from the vision model or detector.
type AnalysisPayload struct {
	ID                int64
	InspectionID      sql.NullString
	FetchedAt         time.Time
	Source            string // "vision", "detector", "kafka"
	PayloadCompressed []byte
	PayloadHash       string
}

// StoreAnalysisPayload stores a compressed upstream response.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreAnalysisPayload(inspectionID, source string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	var id int64
	err := s.queryRow(s.db, `
		INSERT INTO analysis_payloads (inspection_id, fetched_at, source, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
		RETURNING id
	`, nullString(inspectionID), time.Now().UTC(), source, buf.Bytes(), hashHex).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert analysis payload: %w", err)
	}
	return id, nil
}

// GetAnalysisPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetAnalysisPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.queryRow(s.db, `SELECT payload_compressed FROM analysis_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// PayloadStats contains storage statistics for analysis payloads.
type PayloadStats struct {
	TotalCount     int
	TotalSizeBytes int64
	CountBySource  map[string]int
}

func (s *Store) GetPayloadStats() (*PayloadStats, error) {
	stats := &PayloadStats{CountBySource: make(map[string]int)}

	rows, err := s.query(s.db, `
		SELECT source, COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM analysis_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.TotalCount += count
		stats.TotalSizeBytes += size
	}
	return stats, rows.Err()
}

// CleanupOldPayloads deletes payloads fetched more than retention ago.
// Returns the number of deleted records.
func (s *Store) CleanupOldPayloads(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.exec(s.db, `DELETE FROM analysis_payloads WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
