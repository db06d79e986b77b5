package store

import (
	"database/sql"
	"time"
)

// SyncRun records one registry import for auditing.
type SyncRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "ftp", "file"
	Path              string
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

func (s *Store) StartSyncRun(source, path string) (*SyncRun, error) {
	run := &SyncRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Path:      path,
	}

	err := s.queryRow(s.db, `
		INSERT INTO sync_runs (started_at, source, path, success)
		VALUES (?, ?, ?, FALSE)
		RETURNING id
	`, run.StartedAt, run.Source, run.Path).Scan(&run.ID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteSyncRun(run *SyncRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.exec(s.db, `
		UPDATE sync_runs SET
			finished_at = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.ResponseSizeBytes, run.RecordsParsed, run.RecordsStored,
		run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentSyncRuns returns the latest registry imports, newest first.
func (s *Store) RecentSyncRuns(limit int) ([]SyncRun, error) {
	rows, err := s.query(s.db, `
		SELECT id, started_at, finished_at, source, path, response_size_bytes,
			records_parsed, records_stored, parse_errors, success, error_message
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Path, &r.ResponseSizeBytes,
			&r.RecordsParsed, &r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
