package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migration SQL is written once with {{...}} tokens for the column types that
// differ between SQLite and Postgres.
var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS toilets (
    id {{serial}},
    name TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    cleanliness_score DOUBLE PRECISION NOT NULL DEFAULT 100,
    cleanliness_grade TEXT NOT NULL DEFAULT 'A',
    is_operational BOOLEAN NOT NULL DEFAULT TRUE,
    water_available BOOLEAN NOT NULL DEFAULT TRUE,
    total_inspections INTEGER NOT NULL DEFAULT 0,
    last_updated {{timestamp}} NOT NULL,
    created_at {{timestamp}} NOT NULL
);

CREATE TABLE IF NOT EXISTS toilet_inspections (
    id TEXT PRIMARY KEY,
    toilet_id BIGINT NOT NULL REFERENCES toilets(id) ON DELETE CASCADE,
    inspector_id TEXT,
    created_at {{timestamp}} NOT NULL,
    litter_count INTEGER NOT NULL DEFAULT 0,
    wet_floor_detected BOOLEAN NOT NULL DEFAULT FALSE,
    overflow_detected BOOLEAN NOT NULL DEFAULT FALSE,
    calculated_score DOUBLE PRECISION,
    image_url TEXT,
    detection_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_inspections_toilet ON toilet_inspections(toilet_id, created_at);

CREATE TABLE IF NOT EXISTS toilet_ratings (
    id TEXT PRIMARY KEY,
    toilet_id BIGINT NOT NULL REFERENCES toilets(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
    comment TEXT NOT NULL DEFAULT '',
    created_at {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratings_toilet ON toilet_ratings(toilet_id);

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    created_at {{timestamp}} NOT NULL
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    PRIMARY KEY (user_id, role)
);
`,
	},
	{
		Version:     2,
		Description: "Add inspection provenance",
		SQL: `
ALTER TABLE toilet_inspections ADD COLUMN provenance TEXT NOT NULL DEFAULT 'signals';
`,
	},
	{
		Version:     3,
		Description: "Add registry source reference",
		SQL: `
ALTER TABLE toilets ADD COLUMN source_ref TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS idx_toilets_source_ref ON toilets(source_ref);
`,
	},
	{
		Version:     4,
		Description: "Add analysis payloads",
		SQL: `
CREATE TABLE IF NOT EXISTS analysis_payloads (
    id {{serial}},
    inspection_id TEXT,
    fetched_at {{timestamp}} NOT NULL,
    source TEXT NOT NULL,
    payload_compressed {{blob}} NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_payloads_source ON analysis_payloads(source, fetched_at);
`,
	},
	{
		Version:     5,
		Description: "Add registry sync audit",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_runs (
    id {{serial}},
    started_at {{timestamp}} NOT NULL,
    finished_at {{timestamp}},
    source TEXT NOT NULL,
    path TEXT NOT NULL,
    response_size_bytes BIGINT,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`,
	},
}

func (s *Store) migrationSQL(sqlText string) string {
	var r *strings.Replacer
	if s.dialect == DialectPostgres {
		r = strings.NewReplacer(
			"{{serial}}", "BIGSERIAL PRIMARY KEY",
			"{{timestamp}}", "TIMESTAMPTZ",
			"{{blob}}", "BYTEA",
		)
	} else {
		r = strings.NewReplacer(
			"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{timestamp}}", "DATETIME",
			"{{blob}}", "BLOB",
		)
	}
	return r.Replace(sqlText)
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		slog.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(s.migrationSQL(m.SQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := s.exec(tx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(s.migrationSQL(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at {{timestamp}}
		)
	`))
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
