package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/viper1331/Simulateur-SSI/internal/logger"
	"github.com/viper1331/Simulateur-SSI/internal/machines"
)

// ---- Test doubles ----

// stubCatalog is a minimal in-memory ScenarioCatalog.
type stubCatalog struct {
	scenarios map[string]ssi.Scenario
}

func (c *stubCatalog) List(ctx context.Context) ([]ssi.Scenario, error) {
	out := make([]ssi.Scenario, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s)
	}
	return out, nil
}

func (c *stubCatalog) Get(ctx context.Context, id string) (*ssi.Scenario, error) {
	if s, ok := c.scenarios[id]; ok {
		return &s, nil
	}
	return nil, nil
}

// fakeRunRepo records the audit calls made by the coordinator.
type fakeRunRepo struct {
	mu      sync.Mutex
	runs    []ssi.Run
	actions []ssi.Action
	scores  []ssi.ScoreEntry
	completes []struct {
		runID string
		score int
	}
	createErr error
}

func (r *fakeRunRepo) Create(ctx context.Context, run ssi.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRunRepo) Complete(ctx context.Context, runID string, score int, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, struct {
		runID string
		score int
	}{runID: runID, score: score})
	return nil
}

func (r *fakeRunRepo) AppendAction(ctx context.Context, a ssi.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *fakeRunRepo) AppendScore(ctx context.Context, e ssi.ScoreEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, e)
	return nil
}

func (r *fakeRunRepo) Get(ctx context.Context, runID string) (*ssi.RunDetail, error) {
	return nil, nil
}

func (r *fakeRunRepo) scoreLabels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	labels := make([]string, 0, len(r.scores))
	for _, s := range r.scores {
		labels = append(labels, s.Label)
	}
	return labels
}

// fakeClient collects every frame the coordinator sends.
type fakeClient struct {
	mu   sync.Mutex
	msgs []ServerMessage
}

func (c *fakeClient) Send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeClient) last() *ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil
	}
	msg := c.msgs[len(c.msgs)-1]
	return &msg
}

// ---- Helpers ----

// quickScenario keeps the temporizations short so tests can walk the
// whole sequence tick by tick.
var quickScenario = ssi.Scenario{
	ID:   "rapide",
	Name: "Exercice rapide",
	T1:   2,
	T2:   1,
	Zd:   []ssi.Zd{{ID: "zd-1", Name: "Hall"}},
	Das:  []ssi.Das{{ID: "d1", Name: "Porte", Status: machines.DasEnPosition}},
}

func newTestManager() (*SessionManager, *fakeRunRepo) {
	catalog := &stubCatalog{scenarios: map[string]ssi.Scenario{
		quickScenario.ID:           quickScenario,
		ssi.DefaultScenarios[0].ID: ssi.DefaultScenarios[0],
	}}
	runs := &fakeRunRepo{}
	return NewSessionManager(catalog, runs, logger.Nop()), runs
}

// stopClock cancels the background ticker so tests drive time through
// handleTick calls only.
func stopClock(m *SessionManager, sessionID string) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	m.stopTickLocked(s)
	s.mu.Unlock()
}

func currentClock(m *SessionManager, sessionID string) chan struct{} {
	s := m.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickStop
}

// ---- Tests ----

func TestSessionManager_JoinBroadcastsSnapshot(t *testing.T) {
	m, _ := newTestManager()
	trainer := &fakeClient{}

	m.Join(trainer, "s1", RoleTrainer)

	msg := trainer.last()
	if msg == nil || msg.Type != MsgSessionState {
		t.Fatalf("expected a SESSION_STATE frame, got %+v", msg)
	}
	if msg.Payload == nil || msg.Payload.CmsiPhase != machines.CmsiIdle {
		t.Fatalf("expected an idle snapshot, got %+v", msg.Payload)
	}
	if msg.Payload.ID != "s1" {
		t.Fatalf("expected session id s1, got %q", msg.Payload.ID)
	}
}

func TestSessionManager_StartScenario(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	trainer := &fakeClient{}
	m.Join(trainer, "s1", RoleTrainer)

	if err := m.StartScenario(ctx, "s1", "rapide", "tr-1", "ap-1"); err != nil {
		t.Fatalf("StartScenario returned error: %v", err)
	}

	st := m.Snapshot("s1")
	if st.ScenarioID != "rapide" || st.T1 != 2 || st.T2 != 1 {
		t.Fatalf("scenario not applied: %+v", st)
	}
	if st.RunID == "" {
		t.Fatalf("expected an open run id")
	}
	if got := st.DasStatus["d1"]; got != machines.DasEnPosition {
		t.Fatalf("expected d1 in position, got %q", got)
	}
	if st.Score != 0 || st.AccessLevel != ssi.AccessNone {
		t.Fatalf("expected a clean slate, got score=%d level=%d", st.Score, st.AccessLevel)
	}
	if len(st.Timeline) != 1 || st.Timeline[0].Category != ssi.TimelineSystem {
		t.Fatalf("expected one system timeline entry, got %+v", st.Timeline)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.runs) != 1 || runs.runs[0].Status != "running" {
		t.Fatalf("expected one running run, got %+v", runs.runs)
	}
	if len(runs.actions) != 1 || runs.actions[0].Type != MsgStartScenario {
		t.Fatalf("expected the start action persisted, got %+v", runs.actions)
	}
}

func TestSessionManager_StartScenario_Unknown(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()

	err := m.StartScenario(ctx, "s1", "absent", "tr-1", "ap-1")
	if !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.runs) != 0 {
		t.Fatalf("no run should be opened for an unknown scenario")
	}
}

func TestSessionManager_AlarmStartsSequence(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}

	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{
		Type:    ssi.EventAlarmeDM,
		Payload: map[string]any{"zdId": "zd-1"},
	})
	stopClock(m, "s1")

	st := m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiPreAlerte || st.T1Remaining != 2 {
		t.Fatalf("expected pre-alert t1=2, got %q t1=%d", st.CmsiPhase, st.T1Remaining)
	}
	if len(st.ActiveAlarms.Dm) != 1 || st.ActiveAlarms.Dm[0] != "zd-1" {
		t.Fatalf("expected zd-1 in active DM alarms, got %+v", st.ActiveAlarms)
	}
	if st.AlarmStartedAt == 0 {
		t.Fatalf("expected the alarm start recorded")
	}
	if !st.AwaitingReset {
		t.Fatalf("an alarm opens the rearm obligation")
	}

	// Walk the countdown: two ticks to alert, one more to the UGA.
	m.handleTick("s1", nil)
	m.handleTick("s1", nil)
	st = m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiAlerte {
		t.Fatalf("expected alerte, got %q", st.CmsiPhase)
	}
	if !containsMessage(st.Timeline, "Passage en ALERTE (T2)") {
		t.Fatalf("expected the alert transition in the timeline: %+v", st.Timeline)
	}

	m.handleTick("s1", nil)
	st = m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiUgaActive || !st.UgaActive {
		t.Fatalf("expected the UGA active, got %q", st.CmsiPhase)
	}
	if !containsMessage(st.Timeline, "UGA activée automatiquement") {
		t.Fatalf("expected the UGA activation in the timeline")
	}
}

func TestSessionManager_FastAckClosesAlarmAndScores(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")

	now = base.Add(10 * time.Second)
	m.Acknowledge(ctx, "s1", "ap-1")

	st := m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiIdle {
		t.Fatalf("fast ack should return to rest, got %q", st.CmsiPhase)
	}
	if st.AwaitingReset {
		t.Fatalf("fast ack closes the rearm obligation")
	}
	if len(st.ActiveAlarms.Dm) != 0 {
		t.Fatalf("fast ack clears active alarms, got %+v", st.ActiveAlarms)
	}
	if st.Score != 20 {
		t.Fatalf("expected +20 for a fast ack, got %d", st.Score)
	}
	if labels := runs.scoreLabels(); len(labels) != 1 || labels[0] != "Acquittement < 15 s" {
		t.Fatalf("expected the fast-ack score persisted, got %v", labels)
	}
}

func TestSessionManager_SlowAckScoresNothing(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")

	now = base.Add(40 * time.Second)
	m.Acknowledge(ctx, "s1", "ap-1")

	if st := m.Snapshot("s1"); st.Score != 0 {
		t.Fatalf("a slow ack earns nothing, got %d", st.Score)
	}
	if labels := runs.scoreLabels(); len(labels) != 0 {
		t.Fatalf("expected no score entries, got %v", labels)
	}
}

// Complete exercise: alarm, alert, ack, UGA, manual stop, rearm, end.
func TestSessionManager_FullSequenceScoring(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.StartScenario(ctx, "s1", "rapide", "tr-1", "ap-1"); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")

	m.handleTick("s1", nil)
	m.handleTick("s1", nil) // alerte

	now = base.Add(5 * time.Second)
	m.Acknowledge(ctx, "s1", "ap-1") // +20

	m.handleTick("s1", nil) // UGA active
	if st := m.Snapshot("s1"); !st.UgaActive {
		t.Fatalf("expected the UGA running, got %q", st.CmsiPhase)
	}

	m.StopUGA(ctx, "s1", "ap-1") // -25 while active
	st := m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiAttenteReset {
		t.Fatalf("expected the reset wait, got %q", st.CmsiPhase)
	}
	if st.Score != -5 {
		t.Fatalf("expected 20-25=-5, got %d", st.Score)
	}

	m.Reset(ctx, "s1", "ap-1") // +30
	st = m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiIdle {
		t.Fatalf("expected rest after the rearm, got %q", st.CmsiPhase)
	}
	if st.AwaitingReset {
		t.Fatalf("the rearm obligation should be closed")
	}
	if st.Score != 25 {
		t.Fatalf("expected final score 25, got %d", st.Score)
	}
	if !containsMessage(st.Timeline, "Réarmement effectué") {
		t.Fatalf("expected the rearm in the timeline")
	}

	m.StopScenario(ctx, "s1")
	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.completes) != 1 || runs.completes[0].score != 25 {
		t.Fatalf("expected the run completed with 25, got %+v", runs.completes)
	}
}

func TestSessionManager_ResetRefusedWithoutAck(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")

	m.handleTick("s1", nil)
	m.handleTick("s1", nil)
	m.handleTick("s1", nil) // UGA without any ack
	m.StopUGA(ctx, "s1", "ap-1")

	m.Reset(ctx, "s1", "ap-1")
	st := m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiAttenteReset {
		t.Fatalf("an unacknowledged reset must be refused, got %q", st.CmsiPhase)
	}
	if !containsMessage(st.Timeline, "Réarmement refusé") {
		t.Fatalf("expected the refusal in the timeline")
	}
}

func TestSessionManager_StopWithoutRearmPenalizes(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")

	m.StopScenario(ctx, "s1")

	st := m.Snapshot("s1")
	if st.Score != -10 {
		t.Fatalf("expected -10 for a missing rearm, got %d", st.Score)
	}
	if st.CmsiPhase != machines.CmsiIdle || st.AccessLevel != ssi.AccessNone {
		t.Fatalf("stop should reset the panel and the access level")
	}
	if labels := runs.scoreLabels(); len(labels) != 1 || labels[0] != "Absence de réarmement" {
		t.Fatalf("expected the penalty persisted, got %v", labels)
	}
	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.completes) != 1 || runs.completes[0].score != -10 {
		t.Fatalf("expected the run completed with -10, got %+v", runs.completes)
	}
}

func TestSessionManager_OutOfServiceMasksZone(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}

	m.SetOutOfService(ctx, "s1", "tr-1", "zd", "zd-1", true, "Hall")
	st := m.Snapshot("s1")
	if len(st.OutOfService.Zd) != 1 || st.OutOfService.Zd[0] != "zd-1" {
		t.Fatalf("expected zd-1 out of service, got %+v", st.OutOfService)
	}
	if len(st.MaskedZones) != 1 || st.MaskedZones[0] != "zd-1" {
		t.Fatalf("expected zd-1 masked on the panel, got %+v", st.MaskedZones)
	}

	// A suppressed zone no longer raises.
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	st = m.Snapshot("s1")
	if st.CmsiPhase != machines.CmsiIdle {
		t.Fatalf("masked zone must not trigger, got %q", st.CmsiPhase)
	}
	if !containsMessage(st.Timeline, "Alarme ignorée (zone hors service)") {
		t.Fatalf("expected the suppression in the timeline")
	}

	// Back in service, the alarm goes through.
	m.SetOutOfService(ctx, "s1", "tr-1", "zd", "zd-1", false, "Hall")
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")
	if st := m.Snapshot("s1"); st.CmsiPhase != machines.CmsiPreAlerte {
		t.Fatalf("expected the alarm accepted, got %q", st.CmsiPhase)
	}
}

func TestSessionManager_OutOfServiceDas(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}

	m.SetOutOfService(ctx, "s1", "tr-1", "das", "d1", true, "Porte")
	st := m.Snapshot("s1")
	if len(st.OutOfService.Das) != 1 || st.OutOfService.Das[0] != "d1" {
		t.Fatalf("expected d1 out of service, got %+v", st.OutOfService)
	}
	if len(st.MaskedZones) != 0 {
		t.Fatalf("device suppression must not mask zones, got %+v", st.MaskedZones)
	}
}

func TestSessionManager_SetAccessLevelClamps(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	m.SetAccessLevel(ctx, "s1", "tr-1", 9)
	if st := m.Snapshot("s1"); st.AccessLevel != ssi.AccessSSI3 {
		t.Fatalf("expected clamp to 3, got %d", st.AccessLevel)
	}

	m.SetAccessLevel(ctx, "s1", "tr-1", -4)
	st := m.Snapshot("s1")
	if st.AccessLevel != ssi.AccessNone {
		t.Fatalf("expected clamp to 0, got %d", st.AccessLevel)
	}
	if !containsMessage(st.Timeline, "Accès SSI verrouillé par le formateur") {
		t.Fatalf("expected the lockout in the timeline")
	}
}

func TestSessionManager_PowerCutEvent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventCoupureSecteur, Payload: map[string]any{}})
	st := m.Snapshot("s1")
	if st.Alimentation != machines.PowerBatterie {
		t.Fatalf("expected battery after the mains cut, got %q", st.Alimentation)
	}
	if !containsMessage(st.Timeline, "Bascule sur batterie") {
		t.Fatalf("expected the switchover in the timeline")
	}
}

func TestSessionManager_DasBlockedEvent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}

	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{
		Type:    ssi.EventDasBloque,
		Payload: map[string]any{"dasId": "d1"},
	})

	st := m.Snapshot("s1")
	if st.DasStatus["d1"] != machines.DasDefaut {
		t.Fatalf("expected d1 in fault, got %q", st.DasStatus["d1"])
	}
	if !containsMessage(st.Timeline, "Défaut position DAS") {
		t.Fatalf("expected the fault in the timeline")
	}
}

func TestSessionManager_LeaveStopsBroadcasts(t *testing.T) {
	m, _ := newTestManager()
	trainer := &fakeClient{}
	m.Join(trainer, "s1", RoleTrainer)
	m.Leave(trainer)

	before := len(trainer.msgs)
	m.SetAccessLevel(context.Background(), "s1", "tr-1", 1)
	if len(trainer.msgs) != before {
		t.Fatalf("a departed client must not receive frames")
	}
}

func TestSessionManager_SupersededClockDoesNotTick(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})

	stale := currentClock(m, "s1")
	stopClock(m, "s1")

	// A ticker goroutine carrying the replaced stop channel must not
	// decrement the temporization.
	m.handleTick("s1", stale)
	if st := m.Snapshot("s1"); st.T1Remaining != 2 {
		t.Fatalf("a superseded clock must not tick, got t1=%d", st.T1Remaining)
	}

	m.handleTick("s1", nil)
	if st := m.Snapshot("s1"); st.T1Remaining != 1 {
		t.Fatalf("the current clock must tick, got t1=%d", st.T1Remaining)
	}
}

func TestSessionManager_StopScenarioClosesRun(t *testing.T) {
	ctx := context.Background()
	m, runs := newTestManager()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.StartScenario(ctx, "s1", "rapide", "", ""); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	m.TriggerEvent(ctx, "s1", ssi.ScenarioEvent{Type: ssi.EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}})
	stopClock(m, "s1")
	m.StopScenario(ctx, "s1")

	runs.mu.Lock()
	actionsBefore := len(runs.actions)
	runs.mu.Unlock()

	// Commands after the stop neither append to the completed run nor
	// score against the stale alarm start.
	now = base.Add(5 * time.Second)
	m.Acknowledge(ctx, "s1", "ap-1")

	if st := m.Snapshot("s1"); st.RunID != "" || st.Score != -10 {
		t.Fatalf("expected a closed run and the stop-time score, got run=%q score=%d", st.RunID, st.Score)
	}
	runs.mu.Lock()
	defer runs.mu.Unlock()
	if len(runs.actions) != actionsBefore {
		t.Fatalf("a completed run must take no further actions, got %+v", runs.actions[actionsBefore:])
	}
	for _, s := range runs.scores {
		if s.Label == "Acquittement < 15 s" {
			t.Fatalf("no fast-ack score after the scenario stopped: %+v", runs.scores)
		}
	}
}

func containsMessage(timeline []ssi.TimelineEntry, message string) bool {
	for _, e := range timeline {
		if e.Message == message {
			return true
		}
	}
	return false
}
