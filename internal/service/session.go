package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	ssi "github.com/viper1331/Simulateur-SSI"
	"github.com/viper1331/Simulateur-SSI/internal/logger"
	"github.com/viper1331/Simulateur-SSI/internal/machines"
	"github.com/viper1331/Simulateur-SSI/internal/repository"

	"github.com/google/uuid"
)

const tickInterval = 1 * time.Second

// fastAckWindow is the delay under which an acknowledgement is rewarded.
const fastAckWindow = 15 * time.Second

// ErrUnknownScenario is returned by StartScenario for an id missing from
// both the database catalog and the built-in defaults.
var ErrUnknownScenario = errors.New("scénario inconnu")

// session is the per-id aggregate: the three machines, membership,
// journal, score and audit bookkeeping. All mutation happens under mu,
// which serializes commands and ticks the way the single event loop of
// a physical panel would.
type session struct {
	mu sync.Mutex

	id       string
	scenario *ssi.Scenario
	runID    string

	cmsi *machines.Cmsi
	alim *machines.Alimentation
	das  map[string]*machines.Das

	trainers map[Client]struct{}
	trainees map[Client]struct{}

	timeline       []ssi.TimelineEntry
	score          int
	awaitingReset  bool
	alarmStartedAt time.Time
	ackTimestamp   time.Time

	outZd       map[string]struct{}
	outDas      map[string]struct{}
	activeDm    map[string]struct{}
	activeDai   map[string]struct{}
	accessLevel ssi.AccessLevel

	tickStop chan struct{}
}

// SessionManager is the session coordinator: single authority per
// session id. It serializes client commands into machine transitions,
// runs the countdown clock, evaluates scoring and fans the full
// snapshot out to every member.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	catalog ScenarioCatalog
	runs    repository.RunRepo
	log     *logger.Logger

	// injectable clock for scoring tests
	now func() time.Time
}

func NewSessionManager(catalog ScenarioCatalog, runs repository.RunRepo, log *logger.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*session),
		catalog:  catalog,
		runs:     runs,
		log:      log,
		now:      time.Now,
	}
}

// ensureSession lazily creates the session aggregate on first sight of
// an id.
func (m *SessionManager) ensureSession(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &session{
		id:        id,
		cmsi:      machines.NewCmsi(),
		alim:      machines.NewAlimentation(),
		das:       make(map[string]*machines.Das),
		trainers:  make(map[Client]struct{}),
		trainees:  make(map[Client]struct{}),
		outZd:     make(map[string]struct{}),
		outDas:    make(map[string]struct{}),
		activeDm:  make(map[string]struct{}),
		activeDai: make(map[string]struct{}),
	}
	m.sessions[id] = s
	return s
}

func (m *SessionManager) lookup(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Join registers a connection as trainer or trainee of a session and
// sends the current snapshot to everyone.
func (m *SessionManager) Join(c Client, sessionID, role string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == RoleTrainer {
		s.trainers[c] = struct{}{}
	} else {
		s.trainees[c] = struct{}{}
	}
	m.broadcastLocked(s)
}

// Leave removes a connection from every session it joined.
func (m *SessionManager) Leave(c Client) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		delete(s.trainers, c)
		delete(s.trainees, c)
		s.mu.Unlock()
	}
}

// StartScenario resets the session to the scenario defaults, opens an
// audit run and broadcasts. Unknown scenario ids mutate nothing.
func (m *SessionManager) StartScenario(ctx context.Context, sessionID, scenarioID, trainerID, traineeID string) error {
	scenario, err := m.catalog.Get(ctx, scenarioID)
	if err != nil {
		return err
	}
	if scenario == nil {
		return ErrUnknownScenario
	}

	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.stopTickLocked(s)

	s.scenario = scenario
	s.cmsi = machines.NewCmsi()
	s.alim = machines.NewAlimentation()
	s.das = make(map[string]*machines.Das, len(scenario.Das))
	for _, d := range scenario.Das {
		dev := machines.NewDas()
		if d.Status == machines.DasCommande {
			dev.Command(machines.DasClosed)
		} else if d.Status == machines.DasDefaut {
			dev.ReportFault()
		}
		s.das[d.ID] = dev
	}
	s.cmsi.ReportDevicePositionReady(m.allDasInPositionLocked(s))

	s.timeline = nil
	s.score = 0
	s.awaitingReset = false
	s.alarmStartedAt = time.Time{}
	s.ackTimestamp = time.Time{}
	s.outZd = make(map[string]struct{})
	s.outDas = make(map[string]struct{})
	s.activeDm = make(map[string]struct{})
	s.activeDai = make(map[string]struct{})
	s.accessLevel = ssi.AccessNone

	m.addTimelineLocked(s, "Scénario \""+scenario.Name+"\" démarré", ssi.TimelineSystem)

	run := ssi.Run{
		ID:         uuid.NewString(),
		ScenarioID: scenario.ID,
		TrainerID:  trainerID,
		TraineeID:  traineeID,
		StartedAt:  m.now().UTC(),
		Status:     "running",
	}
	if err := m.runs.Create(ctx, run); err != nil {
		// audit is best-effort; the live session keeps going
		if m.log != nil {
			m.log.Errorw("run_create_failed", "err", err, "session", sessionID)
		}
	} else {
		s.runID = run.ID
	}
	m.persistActionLocked(ctx, s, MsgStartScenario, map[string]any{"scenarioId": scenario.ID})

	m.broadcastLocked(s)
	return nil
}

// TriggerEvent maps a scenario event onto machine operations and
// records it.
func (m *SessionManager) TriggerEvent(ctx context.Context, sessionID string, ev ssi.ScenarioEvent) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.addTimelineLocked(s, "Événement: "+ev.Type, ssi.TimelineEvent)

	switch ev.Type {
	case ssi.EventAlarmeDM, ssi.EventAlarmeDAI:
		m.handleAlarmLocked(s, ev)
	case ssi.EventDefautLigne:
		m.addTimelineLocked(s, "Défaut de ligne signalé", ssi.TimelineSystem)
	case ssi.EventCoupureSecteur:
		s.alim.CutMains()
		m.addTimelineLocked(s, "Bascule sur batterie", ssi.TimelineSystem)
	case ssi.EventDasBloque:
		if dasID, ok := ev.Payload["dasId"].(string); ok {
			if dev := s.das[dasID]; dev != nil {
				dev.ReportFault()
				s.cmsi.ReportDevicePositionReady(m.allDasInPositionLocked(s))
			}
		}
		m.addTimelineLocked(s, "Défaut position DAS", ssi.TimelineSystem)
	case ssi.EventUgaHorsService:
		s.cmsi.StopEvacuation()
		m.addTimelineLocked(s, "UGA hors service", ssi.TimelineSystem)
	}

	m.persistActionLocked(ctx, s, MsgTriggerEvent, map[string]any{"type": ev.Type, "payload": ev.Payload})
	m.broadcastLocked(s)
}

// handleAlarmLocked starts the pre-alert sequence for a DM or DAI alarm,
// unless the raising zone is suppressed.
func (m *SessionManager) handleAlarmLocked(s *session, ev ssi.ScenarioEvent) {
	zoneID, _ := ev.Payload["zdId"].(string)
	if zoneID != "" && s.cmsi.IsMasked(zoneID) {
		m.addTimelineLocked(s, "Alarme ignorée (zone hors service)", ssi.TimelineSystem)
		return
	}

	t1, t2 := 15, 5
	if s.scenario != nil {
		t1, t2 = s.scenario.T1, s.scenario.T2
	}
	s.cmsi.TriggerPreAlert(t1, t2, "")
	s.alarmStartedAt = m.now()
	s.awaitingReset = true
	if zoneID != "" {
		if ev.Type == ssi.EventAlarmeDM {
			s.activeDm[zoneID] = struct{}{}
		} else {
			s.activeDai[zoneID] = struct{}{}
		}
	}
	m.scheduleTickLocked(s)
}

// Acknowledge validates the running alarm and evaluates the fast-ack
// rule. An acknowledgement during the pre-alert returns the panel to
// rest and closes the alarm.
func (m *SessionManager) Acknowledge(ctx context.Context, sessionID, userID string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	wasPreAlert := s.cmsi.Phase() == machines.CmsiPreAlerte
	s.cmsi.Acknowledge()
	s.ackTimestamp = m.now()

	if wasPreAlert && s.cmsi.Phase() == machines.CmsiIdle {
		// fast-ack short-circuit: the panel is back at rest
		s.awaitingReset = false
		s.activeDm = make(map[string]struct{})
		s.activeDai = make(map[string]struct{})
		m.stopTickLocked(s)
	}

	m.addTimelineLocked(s, "Acquittement réalisé", ssi.TimelineAction)
	m.persistActionLocked(ctx, s, MsgAck, map[string]any{"userId": userID})
	m.evaluateAckLocked(ctx, s)
	m.broadcastLocked(s)
}

// Reset rearms the panel. The machine grants it only from the reset
// wait, acknowledged, with the UGA stopped; the coordinator first turns
// the physical rearm key on every device so the position gate reflects
// reality.
func (m *SessionManager) Reset(ctx context.Context, sessionID, userID string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	granted := false
	if s.cmsi.Phase() == machines.CmsiAttenteReset && s.cmsi.Acked() && !s.cmsi.UgaActive() {
		for _, dev := range s.das {
			if dev.Phase() == machines.DasDefaut {
				dev.Rearm()
			}
			dev.ConfirmPosition()
		}
		s.cmsi.ReportDeviceManualStatus(true)
		s.cmsi.ReportDevicePositionReady(m.allDasInPositionLocked(s))
		granted = s.cmsi.Reset()
	}

	if granted {
		s.alim.RestoreMains()
		s.activeDm = make(map[string]struct{})
		s.activeDai = make(map[string]struct{})
		completed := s.awaitingReset
		s.awaitingReset = false
		m.stopTickLocked(s)
		m.addTimelineLocked(s, "Réarmement effectué", ssi.TimelineAction)
		if completed {
			m.updateScoreLocked(ctx, s, "sequence-correct")
		}
	} else {
		m.addTimelineLocked(s, "Réarmement refusé", ssi.TimelineSystem)
	}

	m.persistActionLocked(ctx, s, MsgReset, map[string]any{"userId": userID, "granted": granted})
	m.broadcastLocked(s)
}

// StopUGA halts a running evacuation; stopping it manually while active
// costs points.
func (m *SessionManager) StopUGA(ctx context.Context, sessionID, userID string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive := s.cmsi.UgaActive()
	s.cmsi.StopEvacuation()

	m.addTimelineLocked(s, "Arrêt UGA manuel", ssi.TimelineAction)
	m.persistActionLocked(ctx, s, MsgUgaStop, map[string]any{"userId": userID})
	if wasActive {
		m.updateScoreLocked(ctx, s, "uga-stop-early")
	}
	m.broadcastLocked(s)
}

// SetOutOfService toggles a zone or device in the out-of-service sets.
// Out-of-service detection zones are masked on the panel so they stop
// propagating alarms. Access level 3 is required by doctrine but
// enforced by the stations; the coordinator records regardless.
func (m *SessionManager) SetOutOfService(ctx context.Context, sessionID, userID, targetType, targetID string, active bool, label string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var set map[string]struct{}
	actionLabel := "Zone"
	if targetType == "das" {
		set = s.outDas
		actionLabel = "DAS"
	} else {
		set = s.outZd
		s.cmsi.MaskZone(targetID, active)
	}
	if active {
		set[targetID] = struct{}{}
	} else {
		delete(set, targetID)
	}

	name := label
	if name == "" {
		name = targetID
	}
	verb := "remise en service"
	if active {
		verb = "mise hors service"
	}
	m.addTimelineLocked(s, actionLabel+" "+verb+" ("+name+")", ssi.TimelineAction)
	m.persistActionLocked(ctx, s, MsgSetOutOfService, map[string]any{
		"targetType": targetType,
		"targetId":   targetID,
		"active":     active,
		"label":      label,
		"userId":     userID,
	})
	m.broadcastLocked(s)
}

// SetAccessLevel clamps and records the level granted by the trainer.
func (m *SessionManager) SetAccessLevel(ctx context.Context, sessionID, trainerID string, level int) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := ssi.ClampAccessLevel(level)
	s.accessLevel = next
	if next == ssi.AccessNone {
		m.addTimelineLocked(s, "Accès SSI verrouillé par le formateur", ssi.TimelineAction)
	} else {
		m.addTimelineLocked(s, "Niveau d'accès "+next.Label()+" activé par le formateur", ssi.TimelineAction)
	}
	m.persistActionLocked(ctx, s, MsgSetAccessLevel, map[string]any{
		"trainerId": trainerID,
		"level":     int(next),
	})
	m.broadcastLocked(s)
}

// StopScenario ends the exercise: penalizes a missing rearm, closes the
// audit run with the final score and resets the transient alarm state.
func (m *SessionManager) StopScenario(ctx context.Context, sessionID string) {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.stopTickLocked(s)
	if s.awaitingReset {
		m.updateScoreLocked(ctx, s, "no-reset")
	}
	s.awaitingReset = false
	s.cmsi = machines.NewCmsi()
	s.activeDm = make(map[string]struct{})
	s.activeDai = make(map[string]struct{})
	s.accessLevel = ssi.AccessNone
	s.alarmStartedAt = time.Time{}
	s.ackTimestamp = time.Time{}
	m.addTimelineLocked(s, "Scénario arrêté", ssi.TimelineSystem)

	if s.runID != "" {
		if err := m.runs.Complete(ctx, s.runID, s.score, m.now().UTC()); err != nil && m.log != nil {
			m.log.Errorw("run_complete_failed", "err", err, "run", s.runID)
		}
		// a completed run takes no further actions or scores
		s.runID = ""
	}
	m.broadcastLocked(s)
}

// Snapshot returns the current session state; an unknown id yields a
// zero-value idle snapshot.
func (m *SessionManager) Snapshot(sessionID string) ssi.SessionState {
	s := m.ensureSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.snapshotLocked(s)
}

// ----- tick loop -----

// scheduleTickLocked (re)starts the per-session 1s clock.
func (m *SessionManager) scheduleTickLocked(s *session) {
	m.stopTickLocked(s)
	stop := make(chan struct{})
	s.tickStop = stop
	go m.runTicker(s.id, stop)
}

func (m *SessionManager) stopTickLocked(s *session) {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

func (m *SessionManager) runTicker(sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.handleTick(sessionID, stop)
		}
	}
}

// handleTick advances the temporization clock by one second and samples
// the intermittent-fault draw of commanded devices. It self-cancels
// once the panel leaves the pre-alert/alert window. A ticker goroutine
// already blocked on the mutex while its clock was replaced carries a
// superseded stop channel and must not apply its tick.
func (m *SessionManager) handleTick(sessionID string, stop <-chan struct{}) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tickStop != stop {
		return
	}
	if !s.cmsi.Sequencing() {
		m.stopTickLocked(s)
		return
	}

	s.cmsi.Tick(1)
	for _, dev := range s.das {
		dev.Tick()
	}
	s.cmsi.ReportDevicePositionReady(m.allDasInPositionLocked(s))

	switch s.cmsi.Phase() {
	case machines.CmsiAlerte:
		if s.cmsi.T2Remaining() == m.scenarioT2Locked(s) {
			m.addTimelineLocked(s, "Passage en ALERTE (T2)", ssi.TimelineSystem)
		}
	case machines.CmsiUgaActive:
		m.addTimelineLocked(s, "UGA activée automatiquement", ssi.TimelineSystem)
		m.stopTickLocked(s)
	}

	m.broadcastLocked(s)
}

func (m *SessionManager) scenarioT2Locked(s *session) int {
	if s.scenario != nil {
		return s.scenario.T2
	}
	return 5
}

// ----- scoring / audit -----

func (m *SessionManager) evaluateAckLocked(ctx context.Context, s *session) {
	if s.alarmStartedAt.IsZero() || s.ackTimestamp.IsZero() {
		return
	}
	if s.ackTimestamp.Sub(s.alarmStartedAt) <= fastAckWindow {
		m.updateScoreLocked(ctx, s, "ack-fast")
		// a second acknowledgement must not score again
		s.alarmStartedAt = time.Time{}
	}
}

func (m *SessionManager) updateScoreLocked(ctx context.Context, s *session, ruleID string) {
	for _, rule := range ssi.ScoreRules {
		if rule.ID != ruleID {
			continue
		}
		s.score += rule.Delta
		if s.runID != "" {
			entry := ssi.ScoreEntry{RunID: s.runID, Label: rule.Label, Delta: rule.Delta}
			if err := m.runs.AppendScore(ctx, entry); err != nil && m.log != nil {
				m.log.Errorw("score_persist_failed", "err", err, "run", s.runID, "rule", ruleID)
			}
		}
		return
	}
}

func (m *SessionManager) persistActionLocked(ctx context.Context, s *session, actionType string, payload map[string]any) {
	if s.runID == "" {
		return
	}
	a := ssi.Action{RunID: s.runID, Type: actionType, Payload: payload}
	if err := m.runs.AppendAction(ctx, a); err != nil && m.log != nil {
		m.log.Errorw("action_persist_failed", "err", err, "run", s.runID, "type", actionType)
	}
}

func (m *SessionManager) addTimelineLocked(s *session, message, category string) {
	s.timeline = append(s.timeline, ssi.TimelineEntry{
		ID:        uuid.NewString(),
		Timestamp: m.now().UnixMilli(),
		Message:   message,
		Category:  category,
	})
}

// ----- snapshot / broadcast -----

func (m *SessionManager) allDasInPositionLocked(s *session) bool {
	for _, dev := range s.das {
		if dev.Phase() != machines.DasEnPosition {
			return false
		}
	}
	return true
}

func (m *SessionManager) snapshotLocked(s *session) ssi.SessionState {
	state := ssi.SessionState{
		ID:            s.id,
		RunID:         s.runID,
		T1Remaining:   s.cmsi.T1Remaining(),
		T2Remaining:   s.cmsi.T2Remaining(),
		CmsiPhase:     s.cmsi.Phase(),
		LcdLines:      s.cmsi.LcdLines(),
		Buzzer:        s.cmsi.Buzzer(),
		KeyMode:       s.cmsi.KeyMode(),
		MaskedZones:   s.cmsi.MaskedZones(),
		Acked:         s.cmsi.Acked(),
		UgaActive:     s.cmsi.UgaActive(),
		Alimentation:  s.alim.Phase(),
		DasStatus:     make(map[string]machines.DasPhase, len(s.das)),
		Timeline:      append([]ssi.TimelineEntry(nil), s.timeline...),
		Score:         s.score,
		AwaitingReset: s.awaitingReset,
		OutOfService: ssi.OutOfService{
			Zd:  sortedKeys(s.outZd),
			Das: sortedKeys(s.outDas),
		},
		ActiveAlarms: ssi.ActiveAlarms{
			Dm:  sortedKeys(s.activeDm),
			Dai: sortedKeys(s.activeDai),
		},
		AccessLevel: s.accessLevel,
	}
	if s.scenario != nil {
		state.ScenarioID = s.scenario.ID
		state.T1 = s.scenario.T1
		state.T2 = s.scenario.T2
	}
	for id, dev := range s.das {
		state.DasStatus[id] = dev.Phase()
	}
	if !s.alarmStartedAt.IsZero() {
		state.AlarmStartedAt = s.alarmStartedAt.UnixMilli()
	}
	if !s.ackTimestamp.IsZero() {
		state.AckTimestamp = s.ackTimestamp.UnixMilli()
	}
	return state
}

// broadcastLocked serializes the snapshot once and sends it to every
// member of both sets.
func (m *SessionManager) broadcastLocked(s *session) {
	msg := ServerMessage{Type: MsgSessionState}
	snapshot := m.snapshotLocked(s)
	msg.Payload = &snapshot
	for c := range s.trainers {
		if err := c.Send(msg); err != nil && m.log != nil {
			m.log.Infow("broadcast_failed", "err", err, "session", s.id, "role", RoleTrainer)
		}
	}
	for c := range s.trainees {
		if err := c.Send(msg); err != nil && m.log != nil {
			m.log.Infow("broadcast_failed", "err", err, "session", s.id, "role", RoleTrainee)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
