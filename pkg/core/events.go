package core

import "time"

// PlayerJoin records a session entering the game.
type PlayerJoin struct {
	Time       time.Time `json:"time"`
	SessionID  uint8     `json:"sessionId"`
	Callsign   string    `json:"callsign"`
	Team       uint16    `json:"team"`
	PlayerType uint16    `json:"playerType"`
	Address    string    `json:"address"`
}

// PlayerPart records a session leaving the game.
type PlayerPart struct {
	Time      time.Time `json:"time"`
	SessionID uint8     `json:"sessionId"`
	Callsign  string    `json:"callsign"`
	Reason    string    `json:"reason"`
}

// StateSample is an accepted movement report.
type StateSample struct {
	Time            time.Time  `json:"time"`
	SessionID       uint8      `json:"sessionId"`
	Order           uint16     `json:"order"`
	Status          uint16     `json:"status"`
	Position        Position3D `json:"position"`
	Velocity        Position3D `json:"velocity"`
	Azimuth         float32    `json:"azimuth"`
	AngularVelocity float32    `json:"angularVelocity"`
}

// Kick records a session removed by the server.
type Kick struct {
	Time      time.Time `json:"time"`
	SessionID uint8     `json:"sessionId"`
	Callsign  string    `json:"callsign"`
	Reason    string    `json:"reason"`
}

// Anomaly is a validation failure that was logged but not acted on.
type Anomaly struct {
	Time      time.Time `json:"time"`
	SessionID uint8     `json:"sessionId"`
	Callsign  string    `json:"callsign"`
	Check     string    `json:"check"`
	Detail    string    `json:"detail"`
}

// FlagEvent records a flag changing hands.
type FlagEvent struct {
	Time      time.Time  `json:"time"`
	Action    string     `json:"action"` // "grab" or "drop"
	FlagIndex uint16     `json:"flagIndex"`
	FlagType  string     `json:"flagType"`
	SessionID uint8      `json:"sessionId"`
	Position  Position3D `json:"position"`
}

// Flag event actions.
const (
	FlagGrab = "grab"
	FlagDrop = "drop"
)
