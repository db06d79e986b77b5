package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/sanitrack/internal/models"
)

func (s *Store) UpsertProfile(p models.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(s.db, `
		INSERT INTO profiles (id, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name
	`, p.ID, p.DisplayName, p.CreatedAt)
	return err
}

func (s *Store) GetProfile(id string) (*models.Profile, error) {
	var p models.Profile
	err := s.queryRow(s.db, `SELECT id, display_name, created_at FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.DisplayName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GrantRole(userID string, role models.Role) error {
	_, err := s.exec(s.db, `
		INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		ON CONFLICT(user_id, role) DO NOTHING
	`, userID, string(role))
	if err != nil {
		return fmt.Errorf("grant %s to %s: %w", role, userID, err)
	}
	return nil
}

func (s *Store) RevokeRole(userID string, role models.Role) error {
	_, err := s.exec(s.db, `DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID, string(role))
	return err
}

func (s *Store) HasRole(userID string, role models.Role) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var n int
	err := s.queryRow(s.db, `SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?`,
		userID, string(role)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
