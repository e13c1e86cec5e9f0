package service

import (
	"context"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/viper1331/Simulateur-SSI/internal/logger"
	"github.com/viper1331/Simulateur-SSI/internal/repository"
)

type Authorization interface {
	SignUp(username, password, role string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// ScenarioCatalog exposes the scenario library, falling back to the
// built-in defaults when the database catalog is empty.
type ScenarioCatalog interface {
	List(ctx context.Context) ([]ssi.Scenario, error)
	Get(ctx context.Context, id string) (*ssi.Scenario, error)
}

// RunLog exposes read access to the audit trail of past runs.
type RunLog interface {
	Get(ctx context.Context, runID string) (*ssi.RunDetail, error)
}

// AuthConfig carries the token signing parameters from configuration.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Authorization
	Scenarios ScenarioCatalog
	Runs      RunLog
	Sessions  *SessionManager
}

// NewService wires the repository layer into concrete services.
func NewService(repos *repository.Repository, log *logger.Logger, auth AuthConfig) *Service {
	catalog := NewScenarioService(repos.Scenarios)
	return &Service{
		Authorization: NewAuthService(repos.Auth, auth),
		Scenarios:     catalog,
		Runs:          NewRunLogService(repos.Runs),
		Sessions:      NewSessionManager(catalog, repos.Runs, log),
	}
}
