// Package convert maps storage-neutral core records to GORM models.
package convert

import (
	"database/sql"
	"encoding/json"

	"github.com/bzforge/bzfs/internal/geo"
	"github.com/bzforge/bzfs/internal/model"
	"github.com/bzforge/bzfs/pkg/core"
	"gorm.io/datatypes"
)

// toJSON marshals v, falling back to an empty object.
func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToServerRun converts a core.ServerRun. The GORM primary key is
// assigned on insert.
func CoreToServerRun(r core.ServerRun) model.ServerRun {
	out := model.ServerRun{
		RunID:      r.ID.String(),
		ServerName: r.ServerName,
		Version:    r.Version,
		WorldSize:  r.WorldSize,
		MaxPlayers: r.MaxPlayers,
		MaxFlags:   r.MaxFlags,
		Settings:   toJSON(r.Settings),
		StartTime:  r.StartTime,
	}
	if !r.EndTime.IsZero() {
		out.EndTime = sql.NullTime{Time: r.EndTime, Valid: true}
	}
	return out
}

func CoreToPlayerJoin(e core.PlayerJoin, runID uint) model.PlayerJoin {
	return model.PlayerJoin{
		Time:       e.Time,
		RunID:      runID,
		SessionID:  e.SessionID,
		Callsign:   e.Callsign,
		Team:       e.Team,
		PlayerType: e.PlayerType,
		Address:    e.Address,
	}
}

func CoreToPlayerPart(e core.PlayerPart, runID uint) model.PlayerPart {
	return model.PlayerPart{
		Time:      e.Time,
		RunID:     runID,
		SessionID: e.SessionID,
		Callsign:  e.Callsign,
		Reason:    e.Reason,
	}
}

// CoreToStateSample converts a core.StateSample; the position becomes an
// XYZ point and the velocity is split into columns.
func CoreToStateSample(s core.StateSample, runID uint) model.StateSample {
	return model.StateSample{
		Time:            s.Time,
		RunID:           runID,
		SessionID:       s.SessionID,
		Order:           s.Order,
		Status:          s.Status,
		Position:        geo.PointFromPosition(s.Position),
		VelocityX:       s.Velocity.X,
		VelocityY:       s.Velocity.Y,
		VelocityZ:       s.Velocity.Z,
		Azimuth:         s.Azimuth,
		AngularVelocity: s.AngularVelocity,
	}
}

func CoreToKick(e core.Kick, runID uint) model.Kick {
	return model.Kick{
		Time:      e.Time,
		RunID:     runID,
		SessionID: e.SessionID,
		Callsign:  e.Callsign,
		Reason:    e.Reason,
	}
}

func CoreToAnomaly(e core.Anomaly, runID uint) model.Anomaly {
	return model.Anomaly{
		Time:      e.Time,
		RunID:     runID,
		SessionID: e.SessionID,
		Callsign:  e.Callsign,
		Check:     e.Check,
		Detail:    toJSON(map[string]string{"reason": e.Detail}),
	}
}

func CoreToFlagEvent(e core.FlagEvent, runID uint) model.FlagEvent {
	return model.FlagEvent{
		Time:      e.Time,
		RunID:     runID,
		Action:    e.Action,
		FlagIndex: e.FlagIndex,
		FlagType:  e.FlagType,
		SessionID: e.SessionID,
		Position:  geo.PointFromPosition(e.Position),
	}
}

// CoreToServerPerformance converts a monitor snapshot.
func CoreToServerPerformance(p core.Performance, runID uint) model.ServerPerformance {
	flags := p.Flags
	if flags == nil {
		flags = map[string]int{}
	}
	return model.ServerPerformance{
		Time:           p.Time,
		RunID:          runID,
		Sessions:       p.Sessions,
		Capacity:       p.Capacity,
		TickDurationMs: float32(p.TickDuration.Microseconds()) / 1000,
		Ticks:          p.Ticks,
		Relayed:        p.Relayed,
		Stale:          p.Stale,
		Kicked:         p.Kicked,
		Anomalies:      p.Anomalies,
		Rejected:       p.Rejected,
		DroppedFrames:  p.DroppedFrames,
		FullRejected:   p.FullRejected,
		Unhandled:      p.Unhandled,
		Flags:          toJSON(flags),
	}
}
