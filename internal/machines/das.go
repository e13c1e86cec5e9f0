package machines

import "math/rand/v2"

// DasPhase is the position status of a controllable safety device.
type DasPhase string

const (
	DasEnPosition DasPhase = "en_position"
	DasCommande   DasPhase = "commande"
	DasDefaut     DasPhase = "defaut"
)

// DasPosition is a commanded target position.
type DasPosition string

const (
	DasOpen   DasPosition = "open"
	DasClosed DasPosition = "closed"
)

// Das models one controllable safety device (damper, door, vent). A
// commanded device waits for physical confirmation; an injectable
// intermittent-fault mode can trip it to fault on any tick.
type Das struct {
	phase            DasPhase
	targetPosition   DasPosition
	intermittent     bool
	faultProbability float64
	random           func() float64
}

// NewDas returns a device sitting in position.
func NewDas() *Das {
	return &Das{
		phase:  DasEnPosition,
		random: rand.Float64,
	}
}

// Command moves an in-position device to commanded, recording the
// target. A device already moving or in fault ignores it.
func (d *Das) Command(target DasPosition) {
	if d.phase != DasEnPosition {
		return
	}
	d.phase = DasCommande
	d.targetPosition = target
}

// ConfirmPosition signals physical confirmation of a commanded move.
func (d *Das) ConfirmPosition() {
	if d.phase != DasCommande {
		return
	}
	d.phase = DasEnPosition
	d.targetPosition = ""
}

// ReportFault trips the device to fault, unconditionally.
func (d *Das) ReportFault() { d.phase = DasDefaut }

// Rearm brings a faulted device back to commanded; its position must
// then be reconfirmed.
func (d *Das) Rearm() {
	if d.phase != DasDefaut {
		return
	}
	d.phase = DasCommande
}

// ConfigureIntermittentFault sets the fault probability, clamped to
// [0,1], and enables probabilistic faulting when it is positive. A nil
// random keeps the current source.
func (d *Das) ConfigureIntermittentFault(probability float64, random func() float64) {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	d.faultProbability = probability
	d.intermittent = probability > 0
	if random != nil {
		d.random = random
	}
}

// Tick draws once from the random source while commanded with
// intermittent faulting enabled; a draw below the probability trips the
// device. No-op otherwise.
func (d *Das) Tick() {
	if d.phase != DasCommande || !d.intermittent {
		return
	}
	if d.random() < d.faultProbability {
		d.phase = DasDefaut
	}
}

func (d *Das) Phase() DasPhase              { return d.phase }
func (d *Das) TargetPosition() DasPosition  { return d.targetPosition }
func (d *Das) IntermittentFault() bool      { return d.intermittent }
func (d *Das) FaultProbability() float64    { return d.faultProbability }
