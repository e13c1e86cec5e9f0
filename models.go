package ssi

import (
	"time"

	"github.com/viper1331/Simulateur-SSI/internal/machines"
)

// Scenario event types a trainer can inject.
const (
	EventAlarmeDM       = "ALARME_DM"
	EventAlarmeDAI      = "ALARME_DAI"
	EventDefautLigne    = "DEFAUT_LIGNE"
	EventCoupureSecteur = "COUPURE_SECTEUR"
	EventDasBloque      = "DAS_BLOQUE"
	EventUgaHorsService = "UGA_HORS_SERVICE"
)

// Timeline entry categories.
const (
	TimelineEvent  = "event"
	TimelineAction = "action"
	TimelineSystem = "system"
)

// Zd is a detection zone.
type Zd struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	LinkedZoneIDs []string `json:"linkedZoneIds"`
}

// Zf is a safety (compartmentation) zone.
type Zf struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DasIDs     []string `json:"dasIds"`
	UgaChannel string   `json:"ugaChannel,omitempty"`
}

// Das describes one controllable safety device of a scenario.
type Das struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   string            `json:"type"` // compartimentage | desenfumage | ventilation | evacuation | technique
	ZoneID string            `json:"zoneId"`
	Status machines.DasPhase `json:"status"`
}

// ScenarioEvent is a scheduled or manually injected event.
type ScenarioEvent struct {
	ID         string         `json:"id"`
	ScenarioID string         `json:"scenarioId"`
	Timestamp  int            `json:"timestamp"` // seconds from scenario start
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
}

// Scenario supplies zones, devices, default timers and scheduled events.
type Scenario struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	T1          int             `json:"t1"`
	T2          int             `json:"t2"`
	Zd          []Zd            `json:"zd"`
	Zf          []Zf            `json:"zf"`
	Das         []Das           `json:"das"`
	Events      []ScenarioEvent `json:"events"`
}

// TimelineEntry is one line of the session journal.
type TimelineEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Message   string `json:"message"`
	Category  string `json:"category"` // event | action | system
}

// OutOfService lists administratively suppressed zones and devices.
type OutOfService struct {
	Zd  []string `json:"zd"`
	Das []string `json:"das"`
}

// ActiveAlarms records which zones raised an alarm, split by origin.
type ActiveAlarms struct {
	Dm  []string `json:"dm"`
	Dai []string `json:"dai"`
}

// SessionState is the full snapshot broadcast to every session member
// after each mutation.
type SessionState struct {
	ID             string                        `json:"id"`
	ScenarioID     string                        `json:"scenarioId,omitempty"`
	RunID          string                        `json:"runId,omitempty"`
	T1             int                           `json:"t1,omitempty"`
	T2             int                           `json:"t2,omitempty"`
	T1Remaining    int                           `json:"t1Remaining"`
	T2Remaining    int                           `json:"t2Remaining"`
	CmsiPhase      machines.CmsiPhase            `json:"cmsiPhase"`
	LcdLines       []string                      `json:"lcdLines"`
	Buzzer         bool                          `json:"buzzer"`
	KeyMode        machines.KeyMode              `json:"keyMode"`
	MaskedZones    []string                      `json:"maskedZones,omitempty"`
	Acked          bool                          `json:"acked"`
	UgaActive      bool                          `json:"ugaActive"`
	Alimentation   machines.PowerPhase           `json:"alimentation"`
	DasStatus      map[string]machines.DasPhase  `json:"dasStatus"`
	Timeline       []TimelineEntry               `json:"timeline"`
	Score          int                           `json:"score"`
	AwaitingReset  bool                          `json:"awaitingReset"`
	AlarmStartedAt int64                         `json:"alarmStartedAt,omitempty"` // unix millis
	AckTimestamp   int64                         `json:"ackTimestamp,omitempty"`   // unix millis
	OutOfService   OutOfService                  `json:"outOfService"`
	ActiveAlarms   ActiveAlarms                  `json:"activeAlarms"`
	AccessLevel    AccessLevel                   `json:"accessLevel"`
}

// Run is one audit record of a training exercise.
type Run struct {
	ID         string     `json:"id"`
	ScenarioID string     `json:"scenarioId"`
	TrainerID  string     `json:"trainerId"`
	TraineeID  string     `json:"traineeId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Status     string     `json:"status"` // running | completed
	Score      int        `json:"score"`
}

// Action is one persisted command applied during a run.
type Action struct {
	ID        string         `json:"id"`
	RunID     string         `json:"runId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ScoreEntry is one persisted score delta of a run.
type ScoreEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Label     string    `json:"label"`
	Delta     int       `json:"delta"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunDetail bundles a run with its audit trail.
type RunDetail struct {
	Run     Run          `json:"run"`
	Actions []Action     `json:"actions"`
	Scores  []ScoreEntry `json:"scores"`
}

// User is a trainer or trainee account.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"` // TRAINER | TRAINEE
	PasswordHash string `json:"-"`
}

// ScoreRule pairs an evaluation label with its delta.
type ScoreRule struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Delta int    `json:"delta"`
}

// Scoring labels and deltas evaluated by the session coordinator.
var ScoreRules = []ScoreRule{
	{ID: "ack-fast", Label: "Acquittement < 15 s", Delta: 20},
	{ID: "sequence-correct", Label: "Séquence opérationnelle complète", Delta: 30},
	{ID: "uga-stop-early", Label: "Arrêt UGA prématuré", Delta: -25},
	{ID: "no-reset", Label: "Absence de réarmement", Delta: -10},
}
