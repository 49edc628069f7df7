// Package memory keeps a run's audit trail in memory and exports it as
// JSON when the run ends.
package memory

import (
	"errors"
	"sync"

	"github.com/bzforge/bzfs/internal/config"
	"github.com/bzforge/bzfs/pkg/core"
)

// ErrNoRun is returned when records arrive outside a run.
var ErrNoRun = errors.New("no run started")

// PlayerRecord groups one session lifetime with its samples. Session ids
// are reused, so a new join always opens a new record.
type PlayerRecord struct {
	Join    core.PlayerJoin
	Part    *core.PlayerPart
	Samples []core.StateSample
	Kicks   []core.Kick
}

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig
	run *core.ServerRun
	end core.RunEnd

	players   []*PlayerRecord
	live      map[uint8]*PlayerRecord // keyed by session id
	anomalies []core.Anomaly
	flags     []core.FlagEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:  cfg,
		live: make(map[uint8]*PlayerRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run, discarding any previous one.
func (b *Backend) StartRun(run *core.ServerRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.end = core.RunEnd{}
	b.players = nil
	b.live = make(map[uint8]*PlayerRecord)
	b.anomalies = nil
	b.flags = nil
	return nil
}

// EndRun closes open player records and writes the export file.
func (b *Backend) EndRun(end core.RunEnd) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.end = end
	for id, rec := range b.live {
		rec.Part = &core.PlayerPart{
			Time:      end.EndTime,
			SessionID: id,
			Callsign:  rec.Join.Callsign,
			Reason:    end.Reason,
		}
	}
	b.live = make(map[uint8]*PlayerRecord)
	return b.exportJSON()
}

func (b *Backend) RecordJoin(e *core.PlayerJoin) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	rec := &PlayerRecord{Join: *e}
	b.players = append(b.players, rec)
	b.live[e.SessionID] = rec
	return nil
}

func (b *Backend) RecordPart(e *core.PlayerPart) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	rec, ok := b.live[e.SessionID]
	if !ok {
		return nil
	}
	part := *e
	rec.Part = &part
	delete(b.live, e.SessionID)
	return nil
}

func (b *Backend) RecordState(s *core.StateSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.recordFor(s.SessionID)
	if err != nil {
		return err
	}
	rec.Samples = append(rec.Samples, *s)
	return nil
}

func (b *Backend) RecordKick(e *core.Kick) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.recordFor(e.SessionID)
	if err != nil {
		return err
	}
	rec.Kicks = append(rec.Kicks, *e)
	return nil
}

func (b *Backend) RecordAnomaly(e *core.Anomaly) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.anomalies = append(b.anomalies, *e)
	return nil
}

func (b *Backend) RecordFlagEvent(e *core.FlagEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.flags = append(b.flags, *e)
	return nil
}

// recordFor returns the live record for a session, opening an anonymous
// one when the join was not recorded.
func (b *Backend) recordFor(id uint8) (*PlayerRecord, error) {
	if b.run == nil {
		return nil, ErrNoRun
	}
	rec, ok := b.live[id]
	if !ok {
		rec = &PlayerRecord{Join: core.PlayerJoin{SessionID: id}}
		b.players = append(b.players, rec)
		b.live[id] = rec
	}
	return rec, nil
}

// Players returns a copy of every player record in join order.
func (b *Backend) Players() []PlayerRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]PlayerRecord, len(b.players))
	for i, rec := range b.players {
		out[i] = *rec
		out[i].Samples = append([]core.StateSample(nil), rec.Samples...)
		out[i].Kicks = append([]core.Kick(nil), rec.Kicks...)
	}
	return out
}

// ExportedFilePath returns the path of the last exported file.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
