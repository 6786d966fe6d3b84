package store

import (
	"database/sql"
	"fmt"
)

const runColumns = `id, started_at, finished_at, dry_run, changes_detected,
       decisions_made, decisions_executed, decisions_failed, COALESCE(error, '')`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var finished sql.NullTime
	var dryRun int

	err := row.Scan(
		&r.ID, &r.StartedAt, &finished, &dryRun, &r.ChangesDetected,
		&r.DecisionsMade, &r.DecisionsExecuted, &r.DecisionsFailed, &r.Error,
	)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.DryRun = dryRun == 1

	return r, nil
}

// CreateRun inserts a new run record
func (s *Store) CreateRun(r *Run) error {
	dryRun := 0
	if r.DryRun {
		dryRun = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, dry_run) VALUES (?, ?)
	`, r.ID, dryRun)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// FinishRun stamps the end of a run and records its final counters
func (s *Store) FinishRun(id string, changesDetected, decisionsMade, decisionsExecuted, decisionsFailed int, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = CURRENT_TIMESTAMP,
			changes_detected = ?, decisions_made = ?,
			decisions_executed = ?, decisions_failed = ?, error = ?
		WHERE id = ?
	`, changesDetected, decisionsMade, decisionsExecuted, decisionsFailed,
		nullIfEmpty(errorMsg), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its id
func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// GetRecentRuns retrieves the most recent runs, newest first
func (s *Store) GetRecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
