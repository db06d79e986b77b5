package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/scoring"
)

const facilityColumns = `id, name, address, latitude, longitude, cleanliness_score, cleanliness_grade,
	is_operational, water_available, total_inspections, last_updated, source_ref, created_at`

// NewFacility is the input for creating a facility. A nil score starts the
// facility at the maximum score.
type NewFacility struct {
	Name           string
	Address        string
	Latitude       float64
	Longitude      float64
	Score          *float64
	IsOperational  bool
	WaterAvailable bool
	SourceRef      string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner) (models.Facility, error) {
	var f models.Facility
	var grade string
	var sourceRef sql.NullString
	err := row.Scan(&f.ID, &f.Name, &f.Address, &f.Latitude, &f.Longitude, &f.CleanlinessScore, &grade,
		&f.IsOperational, &f.WaterAvailable, &f.TotalInspections, &f.LastUpdated, &sourceRef, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.CleanlinessGrade, _ = grading.ParseGrade(grade)
	f.SourceRef = sourceRef.String
	return f, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateFacility(nf NewFacility) (*models.Facility, error) {
	score := float64(scoring.MaxScore)
	if nf.Score != nil {
		score = grading.Clamp(*nf.Score)
	}
	grade := s.grades.GradeFor(score)
	now := time.Now().UTC()

	row := s.queryRow(s.db, `
		INSERT INTO toilets (name, address, latitude, longitude, cleanliness_score, cleanliness_grade,
			is_operational, water_available, total_inspections, last_updated, source_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		RETURNING id
	`, nf.Name, nf.Address, nf.Latitude, nf.Longitude, score, string(grade),
		nf.IsOperational, nf.WaterAvailable, now, nullString(nf.SourceRef), now)

	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("insert facility: %w", err)
	}
	return s.GetFacility(id)
}

func (s *Store) GetFacility(id int64) (*models.Facility, error) {
	row := s.queryRow(s.db, `SELECT `+facilityColumns+` FROM toilets WHERE id = ?`, id)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetFacilityBySourceRef(ref string) (*models.Facility, error) {
	row := s.queryRow(s.db, `SELECT `+facilityColumns+` FROM toilets WHERE source_ref = ?`, ref)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFacilities returns every facility ordered by id.
func (s *Store) ListFacilities() ([]models.Facility, error) {
	return s.listFacilities(`SELECT ` + facilityColumns + ` FROM toilets ORDER BY id`)
}

// ListFacilitiesByGrade returns facilities with any of the given grades,
// worst score first.
func (s *Store) ListFacilitiesByGrade(grades ...grading.Grade) ([]models.Facility, error) {
	if len(grades) == 0 {
		return []models.Facility{}, nil
	}
	query := `SELECT ` + facilityColumns + ` FROM toilets WHERE cleanliness_grade IN (?`
	args := []any{string(grades[0])}
	for _, g := range grades[1:] {
		query += `, ?`
		args = append(args, string(g))
	}
	query += `) ORDER BY cleanliness_score ASC, id ASC`
	return s.listFacilities(query, args...)
}

func (s *Store) listFacilities(query string, args ...any) ([]models.Facility, error) {
	rows, err := s.query(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facilities := []models.Facility{}
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}

// DeleteFacility removes a facility along with its inspections and ratings.
func (s *Store) DeleteFacility(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.exec(tx, `DELETE FROM toilet_inspections WHERE toilet_id = ?`, id); err != nil {
		return fmt.Errorf("delete inspections: %w", err)
	}
	if _, err := s.exec(tx, `DELETE FROM toilet_ratings WHERE toilet_id = ?`, id); err != nil {
		return fmt.Errorf("delete ratings: %w", err)
	}
	res, err := s.exec(tx, `DELETE FROM toilets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete facility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// StatusUpdate toggles facility flags. Nil fields are left unchanged.
type StatusUpdate struct {
	IsOperational  *bool
	WaterAvailable *bool
}

func (s *Store) UpdateFacilityStatus(id int64, u StatusUpdate) (*models.Facility, error) {
	f, err := s.GetFacility(id)
	if err != nil {
		return nil, err
	}
	if u.IsOperational != nil {
		f.IsOperational = *u.IsOperational
	}
	if u.WaterAvailable != nil {
		f.WaterAvailable = *u.WaterAvailable
	}

	_, err = s.exec(s.db, `
		UPDATE toilets SET is_operational = ?, water_available = ?, last_updated = ?
		WHERE id = ?
	`, f.IsOperational, f.WaterAvailable, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update facility status: %w", err)
	}
	return s.GetFacility(id)
}

// UpsertRegistryFacility inserts or refreshes a facility keyed by its
// registry reference. Scores and inspection history are never touched.
// Returns true when a new row was created.
func (s *Store) UpsertRegistryFacility(nf NewFacility) (bool, error) {
	if nf.SourceRef == "" {
		return false, errors.New("registry facility requires source_ref")
	}
	existing, err := s.GetFacilityBySourceRef(nf.SourceRef)
	if errors.Is(err, ErrNotFound) {
		if _, err := s.CreateFacility(nf); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.exec(s.db, `
		UPDATE toilets SET name = ?, address = ?, latitude = ?, longitude = ?, last_updated = ?
		WHERE id = ?
	`, nf.Name, nf.Address, nf.Latitude, nf.Longitude, time.Now().UTC(), existing.ID)
	if err != nil {
		return false, fmt.Errorf("update registry facility: %w", err)
	}
	return false, nil
}

// GradeCounts returns the number of facilities holding each grade.
func (s *Store) GradeCounts() (map[grading.Grade]int, error) {
	rows, err := s.query(s.db, `SELECT cleanliness_grade, COUNT(*) FROM toilets GROUP BY cleanliness_grade`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[grading.Grade]int)
	for rows.Next() {
		var grade string
		var n int
		if err := rows.Scan(&grade, &n); err != nil {
			return nil, err
		}
		g, _ := grading.ParseGrade(grade)
		counts[g] += n
	}
	return counts, rows.Err()
}

// AverageScore returns the mean facility score, or 0 with no facilities.
func (s *Store) AverageScore() (float64, error) {
	var avg sql.NullFloat64
	if err := s.queryRow(s.db, `SELECT AVG(cleanliness_score) FROM toilets`).Scan(&avg); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}
