package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/google/uuid"
)

type RunSQLite struct {
	db *sql.DB
}

func NewRunSQLite(db *sql.DB) *RunSQLite { return &RunSQLite{db: db} }

var _ RunRepo = (*RunSQLite)(nil)

// SQLite TIMESTAMP format "YYYY-MM-DD HH:MM:SS"
const sqliteTimeLayout = "2006-01-02 15:04:05"

const (
	insertRunSQL = `
		INSERT INTO runs (id, scenario_id, trainer_id, trainee_id, started_at, status, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	completeRunSQL = `
		UPDATE runs SET ended_at = ?, status = 'completed', score = ? WHERE id = ?
	`

	insertActionSQL = `
		INSERT INTO actions (id, run_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	insertScoreSQL = `
		INSERT INTO scores (id, run_id, label, delta, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	selectRunSQL = `
		SELECT id, scenario_id, trainer_id, trainee_id, started_at, ended_at, status, score
		FROM runs WHERE id = ?
	`

	selectActionsSQL = `
		SELECT id, run_id, type, payload, created_at
		FROM actions WHERE run_id = ? ORDER BY created_at ASC, id ASC
	`

	selectScoresSQL = `
		SELECT id, run_id, label, delta, created_at
		FROM scores WHERE run_id = ? ORDER BY created_at ASC, id ASC
	`
)

// Create opens a run record. Defaults: generated id, UTC now, running.
func (r *RunSQLite) Create(ctx context.Context, run ssi.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		run.ID,
		run.ScenarioID,
		run.TrainerID,
		run.TraineeID,
		run.StartedAt.UTC().Format(sqliteTimeLayout),
		run.Status,
		run.Score,
	)
	if err != nil {
		return fmt.Errorf("insert run %q: %w", run.ID, err)
	}
	return nil
}

// Complete closes a run with its final score and end time.
func (r *RunSQLite) Complete(ctx context.Context, runID string, score int, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, completeRunSQL, endedAt.UTC().Format(sqliteTimeLayout), score, runID)
	if err != nil {
		return fmt.Errorf("complete run %q: %w", runID, err)
	}
	return nil
}

// AppendAction inserts an applied command. If ID or CreatedAt are empty,
// they're set.
func (r *RunSQLite) AppendAction(ctx context.Context, a ssi.Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var payloadPtr *string
	if a.Payload != nil {
		if b, err := json.Marshal(a.Payload); err == nil {
			s := string(b)
			payloadPtr = &s
		}
	}

	_, err := r.db.ExecContext(ctx, insertActionSQL,
		a.ID,
		a.RunID,
		a.Type,
		payloadPtr,
		a.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	return err
}

// AppendScore inserts a score delta.
func (r *RunSQLite) AppendScore(ctx context.Context, e ssi.ScoreEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, insertScoreSQL,
		e.ID,
		e.RunID,
		e.Label,
		e.Delta,
		e.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	return err
}

// Get fetches a run with its actions and score deltas. Returns
// (nil, nil) if not found.
func (r *RunSQLite) Get(ctx context.Context, runID string) (*ssi.RunDetail, error) {
	row := r.db.QueryRowContext(ctx, selectRunSQL, runID)

	var run ssi.Run
	var endedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.ScenarioID,
		&run.TrainerID,
		&run.TraineeID,
		&run.StartedAt,
		&endedAt,
		&run.Status,
		&run.Score,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select run %q: %w", runID, err)
	}
	run.StartedAt = run.StartedAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		run.EndedAt = &t
	}

	actions, err := r.listActions(ctx, runID)
	if err != nil {
		return nil, err
	}
	scores, err := r.listScores(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &ssi.RunDetail{Run: run, Actions: actions, Scores: scores}, nil
}

func (r *RunSQLite) listActions(ctx context.Context, runID string) ([]ssi.Action, error) {
	rows, err := r.db.QueryContext(ctx, selectActionsSQL, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ssi.Action, 0, 16)
	for rows.Next() {
		var a ssi.Action
		var payloadStr sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Type, &payloadStr, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		if payloadStr.Valid && payloadStr.String != "" {
			if err := json.Unmarshal([]byte(payloadStr.String), &a.Payload); err != nil {
				a.Payload = map[string]any{}
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *RunSQLite) listScores(ctx context.Context, runID string) ([]ssi.ScoreEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectScoresSQL, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ssi.ScoreEntry, 0, 8)
	for rows.Next() {
		var e ssi.ScoreEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Label, &e.Delta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
