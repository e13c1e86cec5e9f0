package machines

// PowerPhase is the supply status of the panel.
type PowerPhase string

const (
	PowerSecteur        PowerPhase = "secteur"
	PowerBatterie       PowerPhase = "batterie"
	PowerDefautBatterie PowerPhase = "defautBatterie"
)

// Alimentation tracks mains/battery/battery-fault transitions. Pure
// state; the session coordinator surfaces it as a power fault indicator.
type Alimentation struct {
	phase PowerPhase
}

// NewAlimentation returns a supply on mains.
func NewAlimentation() *Alimentation {
	return &Alimentation{phase: PowerSecteur}
}

// CutMains switches to battery on a mains cut.
func (a *Alimentation) CutMains() {
	if a.phase == PowerSecteur {
		a.phase = PowerBatterie
	}
}

// RestoreMains brings any non-mains state back to mains.
func (a *Alimentation) RestoreMains() {
	a.phase = PowerSecteur
}

// BatteryLow degrades a running battery to battery fault.
func (a *Alimentation) BatteryLow() {
	if a.phase == PowerBatterie {
		a.phase = PowerDefautBatterie
	}
}

// BatteryOK clears a battery fault back to battery.
func (a *Alimentation) BatteryOK() {
	if a.phase == PowerDefautBatterie {
		a.phase = PowerBatterie
	}
}

func (a *Alimentation) Phase() PowerPhase { return a.phase }
