package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/scoring"
)

const inspectionColumns = `id, toilet_id, inspector_id, created_at, litter_count, wet_floor_detected,
	overflow_detected, calculated_score, image_url, detection_json, provenance`

func scanInspection(row rowScanner) (models.Inspection, error) {
	var insp models.Inspection
	var detection sql.NullString
	var provenance string
	err := row.Scan(&insp.ID, &insp.FacilityID, &insp.InspectorID, &insp.CreatedAt, &insp.LitterCount,
		&insp.WetFloor, &insp.Overflow, &insp.CalculatedScore, &insp.ImageURL, &detection, &provenance)
	if err != nil {
		return insp, err
	}
	if detection.Valid && detection.String != "" {
		insp.DetectionJSON = json.RawMessage(detection.String)
	}
	insp.Provenance = scoring.Provenance(provenance)
	return insp, nil
}

// RecordInspection appends an inspection. When the inspection carries a
// calculated score, the owning facility's score and grade are replaced by it
// in the same transaction and its inspection count is incremented. The
// updated facility is returned.
func (s *Store) RecordInspection(insp *models.Inspection) (*models.Facility, error) {
	if insp.ID == "" {
		insp.ID = uuid.NewString()
	}
	if insp.CreatedAt.IsZero() {
		insp.CreatedAt = time.Now().UTC()
	}
	if insp.Provenance == "" {
		insp.Provenance = scoring.ProvenanceSignals
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = s.queryRow(tx, `SELECT 1 FROM toilets WHERE id = ?`, insp.FacilityID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var detection sql.NullString
	if len(insp.DetectionJSON) > 0 {
		detection = sql.NullString{String: string(insp.DetectionJSON), Valid: true}
	}

	_, err = s.exec(tx, `
		INSERT INTO toilet_inspections (id, toilet_id, inspector_id, created_at, litter_count,
			wet_floor_detected, overflow_detected, calculated_score, image_url, detection_json, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, insp.ID, insp.FacilityID, insp.InspectorID, insp.CreatedAt, insp.LitterCount,
		insp.WetFloor, insp.Overflow, insp.CalculatedScore, insp.ImageURL, detection, string(insp.Provenance))
	if err != nil {
		return nil, fmt.Errorf("insert inspection: %w", err)
	}

	if insp.CalculatedScore.Valid {
		score := insp.CalculatedScore.Float64
		grade := s.grades.GradeFor(score)
		_, err = s.exec(tx, `
			UPDATE toilets SET
				cleanliness_score = ?,
				cleanliness_grade = ?,
				total_inspections = total_inspections + 1,
				last_updated = ?
			WHERE id = ?
		`, score, string(grade), insp.CreatedAt, insp.FacilityID)
		if err != nil {
			return nil, fmt.Errorf("update facility score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit inspection: %w", err)
	}
	return s.GetFacility(insp.FacilityID)
}

// ListInspections returns a facility's inspections, newest first.
func (s *Store) ListInspections(facilityID int64, limit int) ([]models.Inspection, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listInspections(`
		SELECT `+inspectionColumns+` FROM toilet_inspections
		WHERE toilet_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, facilityID, limit)
}

// RecentInspections returns the latest scored inspections across all
// facilities.
func (s *Store) RecentInspections(limit int) ([]models.Inspection, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.listInspections(`
		SELECT `+inspectionColumns+` FROM toilet_inspections
		WHERE calculated_score IS NOT NULL
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
}

func (s *Store) GetInspection(id string) (*models.Inspection, error) {
	row := s.queryRow(s.db, `SELECT `+inspectionColumns+` FROM toilet_inspections WHERE id = ?`, id)
	insp, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &insp, nil
}

func (s *Store) listInspections(query string, args ...any) ([]models.Inspection, error) {
	rows, err := s.query(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inspections := []models.Inspection{}
	for rows.Next() {
		insp, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		inspections = append(inspections, insp)
	}
	return inspections, rows.Err()
}
