package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"learner-analytics-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// RunStore persists run manifests and their event log in sqlite. The
// manifest itself is stored as a JSON blob; the indexed columns exist only
// for lookups and the single-active-run guard.
type RunStore struct {
	db *sql.DB
}

// Open initializes the database and creates tables if missing.
func Open(dbPath string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	runTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		logical_date TEXT NOT NULL,
		state TEXT NOT NULL,
		forced INTEGER NOT NULL DEFAULT 0,
		manifest TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	runDateIndex := `CREATE INDEX IF NOT EXISTS idx_runs_logical_date ON runs (logical_date, created_at);`
	eventTable := `
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`

	for _, stmt := range []string{runTable, runDateIndex, eventTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &RunStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new manifest. At most one run per logical date may be
// active at a time; a second concurrent trigger gets ErrRunInProgress. The
// check and insert share a transaction so two triggers cannot interleave.
func (s *RunStore) CreateRun(ctx context.Context, m *model.RunManifest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE logical_date = ? AND state IN (?, ?)`,
		m.ScheduledFor, string(model.RunPending), string(model.RunRunning)).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return model.ErrRunInProgress
	}

	blob, err := json.Marshal(m)
	if err != nil {
		return err
	}
	forced := 0
	if m.Forced {
		forced = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, logical_date, state, forced, manifest, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.ScheduledFor, string(m.State), forced, blob, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SaveRun rewrites the stored manifest for an existing run.
func (s *RunStore) SaveRun(ctx context.Context, m *model.RunManifest) error {
	m.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, manifest = ?, updated_at = ? WHERE id = ?`,
		string(m.State), blob, m.UpdatedAt, m.RunID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", m.RunID, model.ErrNotFound)
	}
	return nil
}

// GetRun fetches a manifest by run ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*model.RunManifest, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT manifest FROM runs WHERE id = ?`, runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(blob)
}

// LatestRun returns the most recently created run for a logical date.
func (s *RunStore) LatestRun(ctx context.Context, logicalDate string) (*model.RunManifest, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest FROM runs WHERE logical_date = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		logicalDate).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runs for %s: %w", logicalDate, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(blob)
}

// ListRuns returns manifests for a logical date, newest first. An empty
// date lists everything.
func (s *RunStore) ListRuns(ctx context.Context, logicalDate string) ([]*model.RunManifest, error) {
	query := `SELECT manifest FROM runs ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if logicalDate != "" {
		query = `SELECT manifest FROM runs WHERE logical_date = ? ORDER BY created_at DESC, id DESC`
		args = append(args, logicalDate)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var manifests []*model.RunManifest
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		m, err := decodeManifest(blob)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, rows.Err()
}

// AppendEvent records a line in the run's event log.
func (s *RunStore) AppendEvent(ctx context.Context, runID string, stage model.StageName, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, stage, message, created_at) VALUES (?, ?, ?, ?)`,
		runID, string(stage), message, time.Now().UTC())
	return err
}

// RunEvent is one line of a run's event log.
type RunEvent struct {
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEvents returns a run's event log in insertion order.
func (s *RunStore) ListEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, message, created_at FROM run_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		if err := rows.Scan(&ev.Stage, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func decodeManifest(blob string) (*model.RunManifest, error) {
	var m model.RunManifest
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
