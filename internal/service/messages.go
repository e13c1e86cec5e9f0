package service

import ssi "github.com/viper1331/Simulateur-SSI"

// Client message types carried over the session socket.
const (
	MsgInit            = "INIT"
	MsgStartScenario   = "START_SCENARIO"
	MsgTriggerEvent    = "TRIGGER_EVENT"
	MsgSetAccessLevel  = "SET_ACCESS_LEVEL"
	MsgAck             = "ACK"
	MsgReset           = "RESET"
	MsgUgaStop         = "UGA_STOP"
	MsgSetOutOfService = "SET_OUT_OF_SERVICE"
	MsgStopScenario    = "STOP_SCENARIO"
)

// Server message types.
const (
	MsgSessionState = "SESSION_STATE"
	MsgError        = "ERROR"
)

// Roles a connection may declare on INIT.
const (
	RoleTrainer = "trainer"
	RoleTrainee = "trainee"
)

// ClientMessage is the envelope of every inbound command; Type selects
// which of the optional fields are meaningful.
type ClientMessage struct {
	Type       string             `json:"type"`
	SessionID  string             `json:"sessionId"`
	Role       string             `json:"role,omitempty"`
	Token      string             `json:"token,omitempty"`
	UserID     string             `json:"userId,omitempty"`
	ScenarioID string             `json:"scenarioId,omitempty"`
	TrainerID  string             `json:"trainerId,omitempty"`
	TraineeID  string             `json:"traineeId,omitempty"`
	Event      *ssi.ScenarioEvent `json:"event,omitempty"`
	Level      int                `json:"level,omitempty"`
	TargetType string             `json:"targetType,omitempty"` // zd | das
	TargetID   string             `json:"targetId,omitempty"`
	Active     bool               `json:"active,omitempty"`
	Label      string             `json:"label,omitempty"`
}

// ServerMessage is what the coordinator sends back: a full session
// snapshot after every mutation, or an error to the offending client.
type ServerMessage struct {
	Type    string            `json:"type"`
	Payload *ssi.SessionState `json:"payload,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Client is one connected trainer or trainee station.
type Client interface {
	Send(msg ServerMessage) error
}
