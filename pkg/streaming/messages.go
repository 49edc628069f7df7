// Package streaming defines the JSON envelopes of the live audit stream.
package streaming

import (
	"encoding/json"

	"github.com/bzforge/bzfs/pkg/core"
)

// Message types carried on the audit stream.
const (
	TypeStartRun    = "start_run"
	TypeEndRun      = "end_run"
	TypePlayerJoin  = "player_join"
	TypePlayerPart  = "player_part"
	TypeStateSample = "state_sample"
	TypeKick        = "kick"
	TypeAnomaly     = "anomaly"
	TypeFlagEvent   = "flag_event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the collector's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`
}

// StartRunPayload opens a run on the collector.
type StartRunPayload struct {
	Run *core.ServerRun `json:"run"`
}

// EndRunPayload closes a run on the collector.
type EndRunPayload = core.RunEnd
