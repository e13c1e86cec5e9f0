package ssi

import "github.com/viper1331/Simulateur-SSI/internal/machines"

// DefaultScenarios are served when the scenario catalog is empty and
// seeded into the database on first start.
var DefaultScenarios = []Scenario{
	{
		ID:          "scenario-1",
		Name:        "DM + UGA + Compartimentage",
		Description: "Déclencheur manuel avec mise en sécurité compartimentage et UGA.",
		T1:          15,
		T2:          5,
		Zd: []Zd{
			{ID: "zd-1", Name: "Hall accueil", Description: "Zone d'accueil principale", LinkedZoneIDs: []string{"zf-evac"}},
		},
		Zf: []Zf{
			{ID: "zf-evac", Name: "Évacuation", DasIDs: []string{"das-portes"}, UgaChannel: "uga-principale"},
		},
		Das: []Das{
			{ID: "das-portes", Name: "Portes coupe-feu", Type: "compartimentage", ZoneID: "zf-evac", Status: machines.DasEnPosition},
		},
		Events: []ScenarioEvent{
			{ID: "event-1", ScenarioID: "scenario-1", Timestamp: 0, Type: EventAlarmeDM, Payload: map[string]any{"zdId": "zd-1"}},
		},
	},
	{
		ID:          "scenario-2",
		Name:        "DAI + Défaut DAS",
		Description: "Détecteur automatique et blocage d'un DAS.",
		T1:          20,
		T2:          10,
		Zd: []Zd{
			{ID: "zd-2", Name: "Atelier", Description: "Atelier production", LinkedZoneIDs: []string{"zf-des"}},
		},
		Zf: []Zf{
			{ID: "zf-des", Name: "Désenfumage", DasIDs: []string{"das-volet"}, UgaChannel: "uga-secondaire"},
		},
		Das: []Das{
			{ID: "das-volet", Name: "Volet désenfumage", Type: "desenfumage", ZoneID: "zf-des", Status: machines.DasCommande},
		},
		Events: []ScenarioEvent{
			{ID: "event-2", ScenarioID: "scenario-2", Timestamp: 0, Type: EventAlarmeDAI, Payload: map[string]any{"zdId": "zd-2"}},
			{ID: "event-3", ScenarioID: "scenario-2", Timestamp: 5, Type: EventDasBloque, Payload: map[string]any{"dasId": "das-volet"}},
		},
	},
	{
		ID:          "scenario-3",
		Name:        "Coupure secteur",
		Description: "Coupure secteur avec bascule batterie et retour normal.",
		T1:          10,
		T2:          5,
		Zd: []Zd{
			{ID: "zd-3", Name: "Tableau électrique", Description: "Local technique électrique", LinkedZoneIDs: []string{"zf-tech"}},
		},
		Zf: []Zf{
			{ID: "zf-tech", Name: "Technique", DasIDs: []string{"das-vent"}},
		},
		Das: []Das{
			{ID: "das-vent", Name: "Ventilation", Type: "technique", ZoneID: "zf-tech", Status: machines.DasEnPosition},
		},
		Events: []ScenarioEvent{
			{ID: "event-4", ScenarioID: "scenario-3", Timestamp: 0, Type: EventCoupureSecteur, Payload: map[string]any{}},
		},
	},
}

// FindDefaultScenario resolves a built-in scenario by id.
func FindDefaultScenario(id string) (Scenario, bool) {
	for _, s := range DefaultScenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}
