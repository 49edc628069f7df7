package core

import "time"

// Performance is a periodic snapshot of server health.
type Performance struct {
	Time          time.Time      `json:"time"`
	RunID         string         `json:"runId"`
	Sessions      int            `json:"sessions"`
	Capacity      int            `json:"capacity"`
	TickDuration  time.Duration  `json:"tickDuration"`
	Ticks         uint64         `json:"ticks"`
	Relayed       uint64         `json:"relayed"`
	Stale         uint64         `json:"stale"`
	Kicked        uint64         `json:"kicked"`
	Anomalies     uint64         `json:"anomalies"`
	Rejected      uint64         `json:"rejected"`
	DroppedFrames uint64         `json:"droppedFrames"`
	FullRejected  uint64         `json:"fullRejected"`
	Unhandled     uint64         `json:"unhandled"`
	Flags         map[string]int `json:"flags"`
}
