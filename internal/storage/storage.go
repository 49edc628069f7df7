// Package storage defines the audit sink the server writes run history to.
package storage

import "github.com/bzforge/bzfs/pkg/core"

// Backend is the interface all storage implementations must satisfy.
// Record methods are called from the tick thread and must not block on I/O.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.ServerRun) error
	EndRun(end core.RunEnd) error

	// Session activity
	RecordJoin(e *core.PlayerJoin) error
	RecordPart(e *core.PlayerPart) error
	RecordState(s *core.StateSample) error

	// Enforcement and flags
	RecordKick(e *core.Kick) error
	RecordAnomaly(e *core.Anomaly) error
	RecordFlagEvent(e *core.FlagEvent) error
}

// Exporter is an optional interface for backends that write a file at the
// end of a run.
type Exporter interface {
	ExportedFilePath() string
}
