// Package monitor builds periodic performance snapshots of the running
// server and hands them to the metrics sinks.
package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/handlers"
	"github.com/bzforge/bzfs/internal/scheduler"
	"github.com/bzforge/bzfs/internal/server"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/world"
	"github.com/bzforge/bzfs/pkg/core"
)

// PerformanceWriter receives snapshots, e.g. the influx sink.
type PerformanceWriter interface {
	WritePerformance(p core.Performance) error
}

// PerformanceRecorder persists snapshots, e.g. the gorm backend.
type PerformanceRecorder interface {
	RecordPerformance(p *core.Performance) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Sessions *session.Table
	Flags    *flag.Registry
	Handlers interface{ Stats() handlers.Stats }
	Server   interface{ Stats() server.Stats }
	World    *world.Context
	Logger   *slog.Logger

	// Optional sinks.
	Influx   PerformanceWriter
	Recorder PerformanceRecorder
	// StatusFile is rewritten with the latest snapshot as JSON.
	StatusFile string
}

// Service manages status monitoring
type Service struct {
	deps Dependencies
	log  *slog.Logger

	mu   sync.RWMutex
	last core.Performance
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, log: deps.Logger.With("component", "monitor")}
}

// Snapshot collects the current counters. It reads the flag registry and
// must run on the tick thread.
func (s *Service) Snapshot(now time.Time) core.Performance {
	p := core.Performance{
		Time:     now,
		Sessions: s.deps.Sessions.Len(),
		Capacity: s.deps.Sessions.Cap(),
		Flags:    make(map[string]int),
	}
	if s.deps.World != nil {
		p.RunID = s.deps.World.Run().ID.String()
		p.Ticks = s.deps.World.Tick()
	}
	if s.deps.Flags != nil {
		for status, n := range s.deps.Flags.CountByStatus() {
			p.Flags[status.String()] = n
		}
	}
	if s.deps.Handlers != nil {
		hs := s.deps.Handlers.Stats()
		p.Relayed = hs.Relayed
		p.Stale = hs.Stale
		p.Kicked = hs.Kicked
		p.Anomalies = hs.Anomalies
		p.Rejected = hs.Rejected
	}
	if s.deps.Server != nil {
		ss := s.deps.Server.Stats()
		p.TickDuration = ss.LastTick
		p.DroppedFrames = ss.Dropped
		p.FullRejected = ss.FullRejected
		p.Unhandled = ss.Unhandled
	}
	return p
}

// Last returns the most recent snapshot. Safe from any goroutine.
func (s *Service) Last() core.Performance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Collect takes a snapshot and fans it out to the sinks. Sink failures are
// logged so the periodic task keeps running.
func (s *Service) Collect(now time.Time) {
	p := s.Snapshot(now)

	s.mu.Lock()
	s.last = p
	s.mu.Unlock()

	s.log.Debug("Performance snapshot",
		"sessions", p.Sessions,
		"tick", p.TickDuration,
		"relayed", p.Relayed,
		"kicked", p.Kicked,
		"dropped", p.DroppedFrames,
		"flags", p.Flags,
	)

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePerformance(p); err != nil {
			s.log.Error("Error writing performance to influx", "error", err)
		}
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordPerformance(&p); err != nil {
			s.log.Error("Error recording performance", "error", err)
		}
	}
	if s.deps.StatusFile != "" {
		if err := s.writeStatus(p); err != nil {
			s.log.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
		}
	}
}

func (s *Service) writeStatus(p core.Performance) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0644)
}

// Task returns a scheduler task collecting every interval.
func (s *Service) Task(interval time.Duration) scheduler.Task {
	return scheduler.Every("monitor", interval, func(now time.Time) error {
		s.Collect(now)
		return nil
	})
}
