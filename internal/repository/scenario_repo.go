package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/google/uuid"
)

type ScenarioSQLite struct {
	db *sql.DB
}

func NewScenarioSQLite(db *sql.DB) *ScenarioSQLite { return &ScenarioSQLite{db: db} }

var _ ScenarioRepo = (*ScenarioSQLite)(nil)

const (
	upsertScenarioSQL = `
		INSERT INTO scenarios (id, name, description, config)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			config=excluded.config
	`

	deleteScenarioEventsSQL = `DELETE FROM scenario_events WHERE scenario_id = ?`

	insertScenarioEventSQL = `
		INSERT INTO scenario_events (id, scenario_id, offset_s, type, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	selectScenariosSQL = `SELECT id, name, description, config FROM scenarios ORDER BY id ASC`

	selectScenarioSQL = `SELECT id, name, description, config FROM scenarios WHERE id = ?`

	selectScenarioEventsSQL = `
		SELECT id, scenario_id, offset_s, type, payload
		FROM scenario_events WHERE scenario_id = ? ORDER BY offset_s ASC, id ASC
	`
)

// scenarioConfig is the JSON blob stored in the config column: timers
// plus the zone/device wiring.
type scenarioConfig struct {
	T1  int      `json:"t1"`
	T2  int      `json:"t2"`
	Zd  []ssi.Zd `json:"zd"`
	Zf  []ssi.Zf `json:"zf"`
	Das []ssi.Das `json:"das"`
}

// Upsert saves a scenario and rewrites its scheduled events.
func (r *ScenarioSQLite) Upsert(ctx context.Context, s ssi.Scenario) error {
	cfg, err := json.Marshal(scenarioConfig{T1: s.T1, T2: s.T2, Zd: s.Zd, Zf: s.Zf, Das: s.Das})
	if err != nil {
		return fmt.Errorf("marshal scenario config %q: %w", s.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert scenario %q: %w", s.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertScenarioSQL, s.ID, s.Name, s.Description, string(cfg)); err != nil {
		return fmt.Errorf("upsert scenario %q: %w", s.ID, err)
	}
	if _, err := tx.ExecContext(ctx, deleteScenarioEventsSQL, s.ID); err != nil {
		return fmt.Errorf("clear scenario events %q: %w", s.ID, err)
	}
	for _, ev := range s.Events {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, insertScenarioEventSQL, id, s.ID, ev.Timestamp, ev.Type, string(payload)); err != nil {
			return fmt.Errorf("insert scenario event %q: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert scenario %q: %w", s.ID, err)
	}
	return nil
}

// List returns the whole catalog with events attached.
func (r *ScenarioSQLite) List(ctx context.Context) ([]ssi.Scenario, error) {
	rows, err := r.db.QueryContext(ctx, selectScenariosSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ssi.Scenario, 0, 8)
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		events, err := r.listEvents(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Events = events
	}
	return out, nil
}

// Get fetches one scenario by id. Returns (nil, nil) if not found.
func (r *ScenarioSQLite) Get(ctx context.Context, id string) (*ssi.Scenario, error) {
	row := r.db.QueryRowContext(ctx, selectScenarioSQL, id)
	s, err := scanScenario(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select scenario %q: %w", id, err)
	}
	events, err := r.listEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Events = events
	return &s, nil
}

func (r *ScenarioSQLite) listEvents(ctx context.Context, scenarioID string) ([]ssi.ScenarioEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectScenarioEventsSQL, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]ssi.ScenarioEvent, 0, 4)
	for rows.Next() {
		var ev ssi.ScenarioEvent
		var payloadStr sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ScenarioID, &ev.Timestamp, &ev.Type, &payloadStr); err != nil {
			return nil, err
		}
		if payloadStr.Valid && payloadStr.String != "" {
			if err := json.Unmarshal([]byte(payloadStr.String), &ev.Payload); err != nil {
				ev.Payload = map[string]any{}
			}
		} else {
			ev.Payload = map[string]any{}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (ssi.Scenario, error) {
	var s ssi.Scenario
	var cfgStr string
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &cfgStr); err != nil {
		return ssi.Scenario{}, err
	}
	var cfg scenarioConfig
	if err := json.Unmarshal([]byte(cfgStr), &cfg); err != nil {
		return ssi.Scenario{}, fmt.Errorf("parse scenario config %q: %w", s.ID, err)
	}
	s.T1 = cfg.T1
	s.T2 = cfg.T2
	s.Zd = cfg.Zd
	s.Zf = cfg.Zf
	s.Das = cfg.Das
	return s, nil
}
