package service

import (
	"context"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/viper1331/Simulateur-SSI/internal/repository"
)

// ScenarioService serves the scenario catalog. An empty database answers
// with the built-in default scenarios so a fresh install is usable.
type ScenarioService struct {
	scenarioRepo repository.ScenarioRepo
}

func NewScenarioService(scenarioRepo repository.ScenarioRepo) *ScenarioService {
	return &ScenarioService{scenarioRepo: scenarioRepo}
}

var _ ScenarioCatalog = (*ScenarioService)(nil)

// List returns the persisted catalog, or the defaults when empty.
func (s *ScenarioService) List(ctx context.Context) ([]ssi.Scenario, error) {
	scenarios, err := s.scenarioRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		return append([]ssi.Scenario(nil), ssi.DefaultScenarios...), nil
	}
	return scenarios, nil
}

// Get resolves one scenario: database first, then defaults. Returns
// (nil, nil) when the id is unknown to both.
func (s *ScenarioService) Get(ctx context.Context, id string) (*ssi.Scenario, error) {
	scenario, err := s.scenarioRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if scenario != nil {
		return scenario, nil
	}
	if def, ok := ssi.FindDefaultScenario(id); ok {
		return &def, nil
	}
	return nil, nil
}

// RunLogService exposes the audit trail of past runs.
type RunLogService struct {
	runRepo repository.RunRepo
}

func NewRunLogService(runRepo repository.RunRepo) *RunLogService {
	return &RunLogService{runRepo: runRepo}
}

var _ RunLog = (*RunLogService)(nil)

// Get returns a run with its actions and score deltas, or (nil, nil).
func (s *RunLogService) Get(ctx context.Context, runID string) (*ssi.RunDetail, error) {
	return s.runRepo.Get(ctx, runID)
}
