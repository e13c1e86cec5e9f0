package repository

import (
	"context"
	"database/sql"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"
)

type Authorization interface {
	Create(username, hash, role string) (int, error)
	GetByUsername(username string) (*ssi.User, error)
}

// ScenarioRepo stores the scenario catalog.
type ScenarioRepo interface {
	Upsert(ctx context.Context, s ssi.Scenario) error
	List(ctx context.Context) ([]ssi.Scenario, error)
	Get(ctx context.Context, id string) (*ssi.Scenario, error)
}

// RunRepo stores the audit trail: runs, applied actions, score deltas.
type RunRepo interface {
	Create(ctx context.Context, r ssi.Run) error
	Complete(ctx context.Context, runID string, score int, endedAt time.Time) error
	AppendAction(ctx context.Context, a ssi.Action) error
	AppendScore(ctx context.Context, e ssi.ScoreEntry) error
	Get(ctx context.Context, runID string) (*ssi.RunDetail, error)
}

type Repository struct {
	Scenarios ScenarioRepo
	Runs      RunRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Scenarios: NewScenarioSQLite(db),
		Runs:      NewRunSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
