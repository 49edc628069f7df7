// Package audit records game activity from the event bus into a storage
// backend.
package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/storage"
	"github.com/bzforge/bzfs/pkg/core"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// Kinds lists the events the plugin subscribes to.
var Kinds = []events.Kind{
	events.PlayerJoin,
	events.PlayerPart,
	events.UpdateRelayed,
	events.Kicked,
	events.Anomaly,
	events.FlagGrabbed,
	events.FlagDropped,
}

// ActivityWriter receives join, part and kick events, e.g. the influx sink.
type ActivityWriter interface {
	WriteActivity(kind string, sessionID uint8, callsign string, t time.Time) error
}

// Dependencies holds all dependencies for the audit plugin
type Dependencies struct {
	Bus      *events.Bus
	Backend  storage.Backend
	Activity ActivityWriter
	Logger   *slog.Logger
	// Observers enables recording of observer sessions.
	Observers bool
}

// Plugin converts bus events into core records.
type Plugin struct {
	deps Dependencies
	log  *slog.Logger

	errors uint64
}

// Load registers the plugin on the bus.
func Load(deps Dependencies) *Plugin {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Plugin{deps: deps, log: deps.Logger.With("component", "audit")}
	for _, k := range Kinds {
		deps.Bus.Register(k, p)
	}
	return p
}

// Unload removes every handler the plugin registered.
func (p *Plugin) Unload() {
	p.deps.Bus.RemoveAll(p)
}

// Errors returns the number of records the backend refused.
func (p *Plugin) Errors() uint64 { return p.errors }

func (p *Plugin) HandleEvent(d events.Data) {
	if err := p.record(d); err != nil {
		p.errors++
		p.log.Error("Error recording event", "kind", d.Kind().String(), "error", err)
	}
	if p.deps.Activity != nil {
		p.activity(d)
	}
}

func (p *Plugin) activity(d events.Data) {
	var (
		pl events.Player
		t  time.Time
	)
	switch e := d.(type) {
	case events.PlayerJoinData:
		pl, t = e.Player, e.Time
	case events.PlayerPartData:
		pl, t = e.Player, e.Time
	case events.KickedData:
		pl, t = e.Player, e.Time
	default:
		return
	}
	if err := p.deps.Activity.WriteActivity(d.Kind().String(), pl.SessionID, pl.Callsign, t); err != nil {
		p.log.Warn("Error writing activity", "error", err)
	}
}

func (p *Plugin) skip(pl events.Player) bool {
	return pl.Observer && !p.deps.Observers
}

func (p *Plugin) record(d events.Data) error {
	b := p.deps.Backend
	switch e := d.(type) {
	case events.PlayerJoinData:
		if p.skip(e.Player) {
			return nil
		}
		return b.RecordJoin(&core.PlayerJoin{
			Time:       e.Time,
			SessionID:  e.SessionID,
			Callsign:   e.Callsign,
			Team:       e.Team,
			PlayerType: e.Type,
			Address:    e.Address,
		})
	case events.PlayerPartData:
		if p.skip(e.Player) {
			return nil
		}
		return b.RecordPart(&core.PlayerPart{Time: e.Time, SessionID: e.SessionID, Callsign: e.Callsign, Reason: e.Reason})
	case events.UpdateRelayedData:
		if p.skip(e.Player) {
			return nil
		}
		return b.RecordState(&core.StateSample{
			Time:            e.Time,
			SessionID:       e.SessionID,
			Order:           e.Order,
			Status:          e.Status,
			Position:        position(e.Position),
			Velocity:        position(e.Velocity),
			Azimuth:         e.Azimuth,
			AngularVelocity: e.AngularVelocity,
		})
	case events.KickedData:
		// Kicks are enforcement and always kept.
		return b.RecordKick(&core.Kick{Time: e.Time, SessionID: e.SessionID, Callsign: e.Callsign, Reason: e.Reason})
	case events.AnomalyData:
		if p.skip(e.Player) {
			return nil
		}
		return b.RecordAnomaly(&core.Anomaly{
			Time:      e.Time,
			SessionID: e.SessionID,
			Callsign:  e.Callsign,
			Check:     e.Check,
			Detail:    fmt.Sprintf("%s (measured %.3f, limit %.3f)", e.Reason, e.Measured, e.Limit),
		})
	case events.FlagGrabbedData:
		return b.RecordFlagEvent(&core.FlagEvent{
			Time:      e.Time,
			Action:    core.FlagGrab,
			FlagIndex: uint16(e.FlagIndex),
			FlagType:  e.FlagType,
			SessionID: e.SessionID,
			Position:  position(e.Position),
		})
	case events.FlagDroppedData:
		return b.RecordFlagEvent(&core.FlagEvent{
			Time:      e.Time,
			Action:    core.FlagDrop,
			FlagIndex: uint16(e.FlagIndex),
			FlagType:  e.FlagType,
			SessionID: e.SessionID,
			Position:  position(e.Position),
		})
	}
	return nil
}

func position(v protocol.Vec3) core.Position3D {
	return core.Position3D{X: v[0], Y: v[1], Z: v[2]}
}
