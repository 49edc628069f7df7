// Package core holds the storage-neutral records the server emits for
// auditing and persistence.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Position3D is a world position in server units.
type Position3D struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// ServerRun is one lifetime of the server process.
type ServerRun struct {
	ID         uuid.UUID `json:"id"`
	ServerName string    `json:"serverName"`
	Version    string    `json:"version"`
	WorldSize  float32   `json:"worldSize"`
	MaxPlayers int       `json:"maxPlayers"`
	MaxFlags   int       `json:"maxFlags"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime,omitzero"`
	// Settings records the tunables the run was started with.
	Settings map[string]any `json:"settings,omitempty"`
}

// NewServerRun stamps a run with a fresh id and start time.
func NewServerRun(name, version string, now time.Time) *ServerRun {
	return &ServerRun{
		ID:         uuid.New(),
		ServerName: name,
		Version:    version,
		StartTime:  now,
	}
}

// RunEnd closes a run.
type RunEnd struct {
	RunID   uuid.UUID `json:"runId"`
	EndTime time.Time `json:"endTime"`
	Reason  string    `json:"reason"`
}
