package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&ServerRun{},
	&PlayerJoin{},
	&PlayerPart{},
	&StateSample{},
	&Kick{},
	&Anomaly{},
	&FlagEvent{},
	&ServerPerformance{},
}

////////////////////////
// RUNS
////////////////////////

// ServerRun is one lifetime of the server process.
type ServerRun struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID      string         `json:"runId" gorm:"size:36;uniqueIndex"`
	ServerName string         `json:"serverName" gorm:"size:128"`
	Version    string         `json:"version" gorm:"size:32"`
	WorldSize  float32        `json:"worldSize"`
	MaxPlayers int            `json:"maxPlayers"`
	MaxFlags   int            `json:"maxFlags"`
	Settings   datatypes.JSON `json:"settings"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    sql.NullTime   `json:"endTime"`
	EndReason  string         `json:"endReason" gorm:"size:64"`
}

func (*ServerRun) TableName() string {
	return "server_runs"
}

////////////////////////
// SESSIONS
////////////////////////

// PlayerJoin is a session that completed the enter handshake.
type PlayerJoin struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time `json:"time"`
	RunID      uint      `json:"runId" gorm:"index:idx_playerjoin_run_id"`
	Run        ServerRun `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionID  uint8     `json:"sessionId"`
	Callsign   string    `json:"callsign" gorm:"size:32;index:idx_playerjoin_callsign"`
	Team       uint16    `json:"team"`
	PlayerType uint16    `json:"playerType"`
	Address    string    `json:"address" gorm:"size:64"`
}

func (*PlayerJoin) TableName() string {
	return "player_joins"
}

// PlayerPart is a session leaving, for any reason.
type PlayerPart struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	RunID     uint      `json:"runId" gorm:"index:idx_playerpart_run_id"`
	Run       ServerRun `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionID uint8     `json:"sessionId"`
	Callsign  string    `json:"callsign" gorm:"size:32"`
	Reason    string    `json:"reason" gorm:"size:128"`
}

func (*PlayerPart) TableName() string {
	return "player_parts"
}

// StateSample is a relayed movement report.
type StateSample struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_statesample_time"`
	RunID     uint      `json:"runId" gorm:"index:idx_statesample_run_id"`
	Run       ServerRun `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionID uint8     `json:"sessionId" gorm:"index:idx_statesample_session_id"`
	Order     uint16    `json:"order"`
	Status    uint16    `json:"status"`

	Position        geom.Point `json:"position"` // XYZ, world units
	VelocityX       float32    `json:"velocityX"`
	VelocityY       float32    `json:"velocityY"`
	VelocityZ       float32    `json:"velocityZ"`
	Azimuth         float32    `json:"azimuth"`
	AngularVelocity float32    `json:"angularVelocity"`
}

func (*StateSample) TableName() string {
	return "state_samples"
}

////////////////////////
// ENFORCEMENT
////////////////////////

// Kick is a session removed by the server.
type Kick struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	RunID     uint      `json:"runId" gorm:"index:idx_kick_run_id"`
	Run       ServerRun `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionID uint8     `json:"sessionId"`
	Callsign  string    `json:"callsign" gorm:"size:32"`
	Reason    string    `json:"reason" gorm:"size:128"`
}

func (*Kick) TableName() string {
	return "kicks"
}

// Anomaly is a validation failure that was logged but not acted on.
// Detail holds {"reason": ...} as JSON so collectors can extend it.
type Anomaly struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time"`
	RunID     uint           `json:"runId" gorm:"index:idx_anomaly_run_id"`
	Run       ServerRun      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	SessionID uint8          `json:"sessionId"`
	Callsign  string         `json:"callsign" gorm:"size:32"`
	Check     string         `json:"check" gorm:"size:32;index:idx_anomaly_check"`
	Detail    datatypes.JSON `json:"detail"`
}

func (*Anomaly) TableName() string {
	return "anomalies"
}

////////////////////////
// FLAGS
////////////////////////

// FlagEvent is a flag being grabbed or dropped.
type FlagEvent struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time  `json:"time"`
	RunID     uint       `json:"runId" gorm:"index:idx_flagevent_run_id"`
	Run       ServerRun  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Action    string     `json:"action" gorm:"size:8"`
	FlagIndex uint16     `json:"flagIndex"`
	FlagType  string     `json:"flagType" gorm:"size:2"`
	SessionID uint8      `json:"sessionId"`
	Position  geom.Point `json:"position"`
}

func (*FlagEvent) TableName() string {
	return "flag_events"
}

////////////////////////
// SYSTEM
////////////////////////

// ServerPerformance is a periodic health snapshot.
type ServerPerformance struct {
	Time           time.Time      `json:"time" gorm:"index:idx_time"`
	RunID          uint           `json:"runId" gorm:"index:idx_serverperformance_run_id"`
	Run            ServerRun      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Sessions       int            `json:"sessions"`
	Capacity       int            `json:"capacity"`
	TickDurationMs float32        `json:"tickDurationMs"`
	Ticks          uint64         `json:"ticks"`
	Relayed        uint64         `json:"relayed"`
	Stale          uint64         `json:"stale"`
	Kicked         uint64         `json:"kicked"`
	Anomalies      uint64         `json:"anomalies"`
	Rejected       uint64         `json:"rejected"`
	DroppedFrames  uint64         `json:"droppedFrames"`
	FullRejected   uint64         `json:"fullRejected"`
	Unhandled      uint64         `json:"unhandled"`
	Flags          datatypes.JSON `json:"flags"`
}

func (*ServerPerformance) TableName() string {
	return "server_performances"
}
