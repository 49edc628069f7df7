package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bzforge/bzfs/internal/geo"
	"github.com/bzforge/bzfs/pkg/core"
)

// RunExport is the root JSON structure
type RunExport struct {
	RunID      string           `json:"runId"`
	ServerName string           `json:"serverName"`
	Version    string           `json:"version"`
	WorldSize  float32          `json:"worldSize"`
	Settings   map[string]any   `json:"settings,omitempty"`
	StartTime  time.Time        `json:"startTime"`
	EndTime    time.Time        `json:"endTime"`
	EndReason  string           `json:"endReason"`
	Players    []PlayerJSON     `json:"players"`
	Anomalies  []core.Anomaly   `json:"anomalies"`
	FlagEvents []core.FlagEvent `json:"flagEvents"`
}

// PlayerJSON is one session lifetime. Track is a WKT LINESTRING Z of the
// relayed positions.
type PlayerJSON struct {
	SessionID  uint8       `json:"sessionId"`
	Callsign   string      `json:"callsign"`
	Team       uint16      `json:"team"`
	PlayerType uint16      `json:"playerType"`
	Address    string      `json:"address,omitempty"`
	Joined     time.Time   `json:"joined"`
	Parted     time.Time   `json:"parted,omitzero"`
	PartReason string      `json:"partReason,omitempty"`
	Samples    int         `json:"samples"`
	Track      string      `json:"track,omitempty"`
	Kicks      []core.Kick `json:"kicks,omitempty"`
}

// exportJSON writes the run data to a (gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.run.ServerName)
	timestamp := b.run.StartTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RunExport {
	export := RunExport{
		RunID:      b.run.ID.String(),
		ServerName: b.run.ServerName,
		Version:    b.run.Version,
		WorldSize:  b.run.WorldSize,
		Settings:   b.run.Settings,
		StartTime:  b.run.StartTime,
		EndTime:    b.end.EndTime,
		EndReason:  b.end.Reason,
		Players:    make([]PlayerJSON, 0, len(b.players)),
		Anomalies:  append([]core.Anomaly{}, b.anomalies...),
		FlagEvents: append([]core.FlagEvent{}, b.flags...),
	}

	for _, rec := range b.players {
		p := PlayerJSON{
			SessionID:  rec.Join.SessionID,
			Callsign:   rec.Join.Callsign,
			Team:       rec.Join.Team,
			PlayerType: rec.Join.PlayerType,
			Address:    rec.Join.Address,
			Joined:     rec.Join.Time,
			Samples:    len(rec.Samples),
			Kicks:      rec.Kicks,
		}
		if rec.Part != nil {
			p.Parted = rec.Part.Time
			p.PartReason = rec.Part.Reason
		}
		if len(rec.Samples) > 1 {
			positions := make([]core.Position3D, len(rec.Samples))
			for i, s := range rec.Samples {
				positions[i] = s.Position
			}
			p.Track = geo.Track(positions).AsText()
		}
		export.Players = append(export.Players, p)
	}
	return export
}

func writeJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
