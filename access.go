package ssi

// AccessLevel gates which panel commands a trainee may issue (0-3).
// Enforcement happens in the station UIs; the coordinator broadcasts and
// records the granted level.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessSSI1
	AccessSSI2
	AccessSSI3
)

var accessLevelLabels = map[AccessLevel]string{
	AccessNone: "Aucun accès actif",
	AccessSSI1: "SSI 1",
	AccessSSI2: "SSI 2",
	AccessSSI3: "SSI 3",
}

// AccessLevelRights documents what each level grants.
var AccessLevelRights = map[AccessLevel][]string{
	AccessNone: nil,
	AccessSSI1: {"Acquittement et tests visuels"},
	AccessSSI2: {"Réarmement CMSI et arrêt UGA"},
	AccessSSI3: {"Gestion des mises hors service"},
}

// ClampAccessLevel bounds a requested level to [0,3].
func ClampAccessLevel(level int) AccessLevel {
	if level < int(AccessNone) {
		return AccessNone
	}
	if level > int(AccessSSI3) {
		return AccessSSI3
	}
	return AccessLevel(level)
}

// Label returns the display name of the level.
func (l AccessLevel) Label() string {
	if label, ok := accessLevelLabels[l]; ok {
		return label
	}
	return accessLevelLabels[AccessNone]
}
