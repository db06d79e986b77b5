package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/scoring"
)

func (s *Store) AddRating(r *models.Rating) error {
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating %d out of range 1-5", scoring.ErrInvalidInput, r.Rating)
	}
	if _, err := s.GetFacility(r.FacilityID); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(s.db, `
		INSERT INTO toilet_ratings (id, toilet_id, user_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.FacilityID, r.UserID, r.Rating, r.Comment, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// ListRatings returns a facility's ratings, newest first.
func (s *Store) ListRatings(facilityID int64) ([]models.Rating, error) {
	rows, err := s.query(s.db, `
		SELECT id, toilet_id, user_id, rating, comment, created_at
		FROM toilet_ratings
		WHERE toilet_id = ?
		ORDER BY created_at DESC, id
	`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := []models.Rating{}
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.ID, &r.FacilityID, &r.UserID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}
