package machines

import (
	"fmt"
	"sort"
)

// CmsiPhase is the closed set of states of the alarm control unit.
type CmsiPhase string

const (
	CmsiIdle         CmsiPhase = "idle"
	CmsiPreAlerte    CmsiPhase = "preAlerte"
	CmsiAlerte       CmsiPhase = "alerte"
	CmsiUgaActive    CmsiPhase = "ugaActive"
	CmsiAttenteReset CmsiPhase = "attenteReset"
)

// KeyMode gates which commands the panel accepts (enforced upstream).
type KeyMode string

const (
	KeyModeUser   KeyMode = "USER"
	KeyModeAuthor KeyMode = "AUTHOR"
)

const (
	lcdMinLines = 2
	lcdMaxLines = 4
	lcdLineLen  = 40
)

var lcdReady = []string{"SYSTEME PRET", "", "", ""}

// Cmsi is the alarm control state machine of the simulated panel:
// detection, temporization (T1/T2), evacuation and reset, with LCD,
// buzzer, key-mode and zone-masking side effects.
//
// Invalid transitions are silent no-ops, like a physical panel ignoring
// an ungranted command. Every transition recomputes the LCD text from
// the new state.
type Cmsi struct {
	phase       CmsiPhase
	t1Remaining int
	t2Remaining int
	lcdLines    []string
	buzzer      bool
	keyMode     KeyMode
	maskedZones map[string]struct{}
	acked       bool
	ugaActive   bool
	dmRearmed   bool
	dasReady    bool
}

// NewCmsi returns a panel at rest: idle, ready display, buzzer off,
// device gates open.
func NewCmsi() *Cmsi {
	return &Cmsi{
		phase:       CmsiIdle,
		lcdLines:    append([]string(nil), lcdReady...),
		keyMode:     KeyModeUser,
		maskedZones: make(map[string]struct{}),
		dmRearmed:   true,
		dasReady:    true,
	}
}

// enterIdle applies the idle entry effects: timers and transient alarm
// flags cleared, ready message restored.
func (m *Cmsi) enterIdle() {
	m.phase = CmsiIdle
	m.lcdLines = append([]string(nil), lcdReady...)
	m.acked = false
	m.ugaActive = false
	m.t1Remaining = 0
	m.t2Remaining = 0
}

// TriggerPreAlert starts the T1 temporization. Only effective at rest;
// an already sequencing panel ignores further triggers.
func (m *Cmsi) TriggerPreAlert(t1, t2 int, message string) {
	if m.phase != CmsiIdle {
		return
	}
	if message == "" {
		message = "Pre-alerte"
	}
	m.phase = CmsiPreAlerte
	m.t1Remaining = t1
	m.t2Remaining = t2
	m.buzzer = true
	m.acked = false
	m.ugaActive = false
	m.dmRearmed = false
	m.lcdLines = sanitizeLines([]string{
		"ALARME FEU",
		message,
		fmt.Sprintf("T1=%ds", t1),
		fmt.Sprintf("T2=%ds", t2),
	}, m.lcdLines)
}

// Tick advances the temporization clock by delta seconds (minimum 1).
// T1 reaching zero moves to alert; T2 reaching zero activates the UGA.
// Outside PreAlerte/Alerte a tick has no effect.
func (m *Cmsi) Tick(delta int) {
	if delta <= 0 {
		delta = 1
	}
	switch m.phase {
	case CmsiPreAlerte:
		m.t1Remaining = max(0, m.t1Remaining-delta)
		if m.t1Remaining == 0 {
			m.phase = CmsiAlerte
			m.lcdLines = sanitizeLines([]string{
				"ALERTE FEU",
				fmt.Sprintf("T2 restant: %ds", m.t2Remaining),
				m.lineAt(2),
				m.lineAt(3),
			}, m.lcdLines)
			return
		}
		m.lcdLines = sanitizeLines([]string{
			"PRE-ALERTE",
			fmt.Sprintf("T1 restant: %ds", m.t1Remaining),
			m.lineAt(2),
			m.lineAt(3),
		}, m.lcdLines)
	case CmsiAlerte:
		m.t2Remaining = max(0, m.t2Remaining-delta)
		if m.t2Remaining == 0 {
			m.phase = CmsiUgaActive
			m.ugaActive = true
			m.buzzer = true
			m.lcdLines = sanitizeLines([]string{
				"EVACUATION",
				"UGA active",
				m.lineAt(2),
				m.lineAt(3),
			}, m.lcdLines)
			return
		}
		m.lcdLines = sanitizeLines([]string{
			"ALERTE FEU",
			fmt.Sprintf("T2 restant: %ds", m.t2Remaining),
			m.lineAt(2),
			m.lineAt(3),
		}, m.lcdLines)
	}
}

// Acknowledge validates the alarm. During the pre-alert it short-circuits
// the whole sequence and returns the panel to rest; later in the sequence
// it only silences and flags.
func (m *Cmsi) Acknowledge() {
	switch m.phase {
	case CmsiPreAlerte:
		m.buzzer = false
		m.enterIdle()
	case CmsiAlerte:
		m.acked = true
		m.buzzer = false
		m.lcdLines = sanitizeLines([]string{"ACK RECU", "UGA en attente"}, m.lcdLines)
	case CmsiUgaActive:
		m.acked = true
		m.lcdLines = sanitizeLines([]string{
			"ACK RECU",
			"UGA active",
			m.lineAt(2),
			m.lineAt(3),
		}, m.lcdLines)
	case CmsiAttenteReset:
		m.acked = true
		m.lcdLines = sanitizeLines([]string{
			"ACK RECU",
			"Reset possible",
			m.lineAt(2),
			m.lineAt(3),
		}, m.lcdLines)
	}
}

// ForceEvacuation triggers the UGA immediately from rest, bypassing the
// T1/T2 temporization.
func (m *Cmsi) ForceEvacuation() {
	if m.phase != CmsiIdle {
		return
	}
	m.phase = CmsiUgaActive
	m.ugaActive = true
	m.buzzer = true
	m.lcdLines = sanitizeLines([]string{
		"EVACUATION GENERALE",
		"Commande manuelle",
		"",
		"",
	}, m.lcdLines)
}

// StopEvacuation halts a running UGA and moves to the reset wait.
func (m *Cmsi) StopEvacuation() {
	if m.phase != CmsiUgaActive {
		return
	}
	m.phase = CmsiAttenteReset
	m.ugaActive = false
	m.buzzer = false
	second := "Valider ACK"
	if m.acked {
		second = "Attente reset"
	}
	m.lcdLines = sanitizeLines([]string{
		"UGA ARRETEE",
		second,
		m.lineAt(2),
		m.lineAt(3),
	}, m.lcdLines)
}

// Reset returns the panel to rest. Granted only from the reset wait when
// the alarm was acknowledged, the UGA is stopped and both device gates
// report ready; otherwise nothing happens. Reports whether the reset was
// granted.
func (m *Cmsi) Reset() bool {
	if m.phase != CmsiAttenteReset {
		return false
	}
	if !m.acked || m.ugaActive || !m.dmRearmed || !m.dasReady {
		return false
	}
	m.buzzer = false
	m.enterIdle()
	return true
}

// SetBuzzer drives the buzzer directly, independent of phase.
func (m *Cmsi) SetBuzzer(active bool) { m.buzzer = active }

// ToggleBuzzer inverts the buzzer.
func (m *Cmsi) ToggleBuzzer() { m.buzzer = !m.buzzer }

// SilenceBuzzer switches the buzzer off.
func (m *Cmsi) SilenceBuzzer() { m.buzzer = false }

// SetKeyMode assigns the panel key position.
func (m *Cmsi) SetKeyMode(mode KeyMode) { m.keyMode = mode }

// PushDisplay replaces the LCD content, sanitized to 2-4 lines of at
// most 40 characters. Empty input keeps the current display shape.
func (m *Cmsi) PushDisplay(lines []string) {
	m.lcdLines = sanitizeLines(lines, m.lcdLines)
}

// MaskZone adds or removes a zone from the masked set. Masking is
// consulted by upstream event injection, not by the machine itself.
func (m *Cmsi) MaskZone(zone string, active bool) {
	if active {
		m.maskedZones[zone] = struct{}{}
		return
	}
	delete(m.maskedZones, zone)
}

// ReportDeviceManualStatus records the manual call point rearm gate.
func (m *Cmsi) ReportDeviceManualStatus(rearmed bool) { m.dmRearmed = rearmed }

// ReportDevicePositionReady records the safety device position gate.
func (m *Cmsi) ReportDevicePositionReady(ready bool) { m.dasReady = ready }

func (m *Cmsi) Phase() CmsiPhase { return m.phase }
func (m *Cmsi) T1Remaining() int { return m.t1Remaining }
func (m *Cmsi) T2Remaining() int { return m.t2Remaining }
func (m *Cmsi) Buzzer() bool     { return m.buzzer }
func (m *Cmsi) KeyMode() KeyMode { return m.keyMode }
func (m *Cmsi) Acked() bool      { return m.acked }
func (m *Cmsi) UgaActive() bool  { return m.ugaActive }
func (m *Cmsi) DmRearmed() bool  { return m.dmRearmed }
func (m *Cmsi) DasReady() bool   { return m.dasReady }

// Sequencing reports whether the temporization clock should keep
// ticking.
func (m *Cmsi) Sequencing() bool {
	return m.phase == CmsiPreAlerte || m.phase == CmsiAlerte
}

// LcdLines returns a copy of the current display.
func (m *Cmsi) LcdLines() []string {
	return append([]string(nil), m.lcdLines...)
}

// MaskedZones returns the masked zone ids, sorted.
func (m *Cmsi) MaskedZones() []string {
	zones := make([]string, 0, len(m.maskedZones))
	for z := range m.maskedZones {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

// IsMasked reports whether a zone is currently suppressed.
func (m *Cmsi) IsMasked(zone string) bool {
	_, ok := m.maskedZones[zone]
	return ok
}

func (m *Cmsi) lineAt(i int) string {
	if i < len(m.lcdLines) {
		return m.lcdLines[i]
	}
	return ""
}

// sanitizeLines normalizes LCD content to 2-4 lines of at most 40
// characters, falling back to the previous display when given nothing.
func sanitizeLines(lines, fallback []string) []string {
	n := len(lines)
	if n == 0 {
		n = len(fallback)
	}
	if n < lcdMinLines {
		n = lcdMinLines
	}
	if n > lcdMaxLines {
		n = lcdMaxLines
	}
	base := lines
	if len(base) == 0 {
		base = fallback
	}
	out := make([]string, n)
	for i := range out {
		if i < len(base) {
			line := base[i]
			// truncate on rune boundaries; accented text must stay valid
			if r := []rune(line); len(r) > lcdLineLen {
				line = string(r[:lcdLineLen])
			}
			out[i] = line
		}
	}
	return out
}
