package handlers

import (
	"context"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuth is a test double for service.Authorization.
type mockAuth struct {
	signUpID  int
	signUpErr error

	token    string
	tokenErr error

	parseID        int
	parseErr       error
	lastParseToken string
}

func (m *mockAuth) SignUp(username, password, role string) (int, error) {
	return m.signUpID, m.signUpErr
}

func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	return m.token, m.tokenErr
}

func (m *mockAuth) ParseToken(accessToken string) (int, error) {
	m.lastParseToken = accessToken
	return m.parseID, m.parseErr
}

// mockCatalog is a test double for service.ScenarioCatalog.
type mockCatalog struct {
	scenarios []ssi.Scenario
	err       error
}

func (m *mockCatalog) List(ctx context.Context) ([]ssi.Scenario, error) {
	return m.scenarios, m.err
}

func (m *mockCatalog) Get(ctx context.Context, id string) (*ssi.Scenario, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.scenarios {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

// mockRunLog is a test double for service.RunLog.
type mockRunLog struct {
	detail *ssi.RunDetail
	err    error
}

func (m *mockRunLog) Get(ctx context.Context, runID string) (*ssi.RunDetail, error) {
	return m.detail, m.err
}

// nopRunRepo satisfies repository.RunRepo for websocket tests that do
// not inspect the audit trail.
type nopRunRepo struct{}

func (nopRunRepo) Create(ctx context.Context, r ssi.Run) error { return nil }
func (nopRunRepo) Complete(ctx context.Context, runID string, score int, endedAt time.Time) error {
	return nil
}
func (nopRunRepo) AppendAction(ctx context.Context, a ssi.Action) error   { return nil }
func (nopRunRepo) AppendScore(ctx context.Context, e ssi.ScoreEntry) error { return nil }
func (nopRunRepo) Get(ctx context.Context, runID string) (*ssi.RunDetail, error) {
	return nil, nil
}
