// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bzforge/bzfs/internal/database"
	"github.com/bzforge/bzfs/internal/model"
	"github.com/bzforge/bzfs/internal/model/convert"
	"github.com/bzforge/bzfs/internal/queue"
	"github.com/bzforge/bzfs/pkg/core"

	"gorm.io/gorm"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// ErrNoDB is returned by Init when no connection was injected.
var ErrNoDB = errors.New("gorm backend: no database")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Joins       *queue.Queue[model.PlayerJoin]
	Parts       *queue.Queue[model.PlayerPart]
	States      *queue.Queue[model.StateSample]
	Kicks       *queue.Queue[model.Kick]
	Anomalies   *queue.Queue[model.Anomaly]
	FlagEvents  *queue.Queue[model.FlagEvent]
	Performance *queue.Queue[model.ServerPerformance]
}

func newQueues() *queues {
	return &queues{
		Joins:       queue.New[model.PlayerJoin](),
		Parts:       queue.New[model.PlayerPart](),
		States:      queue.New[model.StateSample](),
		Kicks:       queue.New[model.Kick](),
		Anomalies:   queue.New[model.Anomaly](),
		FlagEvents:  queue.New[model.FlagEvent](),
		Performance: queue.New[model.ServerPerformance](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	log     *slog.Logger
	queues  *queues
	runID   atomic.Uint64
	runUUID atomic.Value // string

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		log:    deps.Logger.With("component", "storage.gorm"),
		queues: newQueues(),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return ErrNoDB
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the writer goroutine and flushes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	b.Flush()
	return nil
}

// StartRun inserts the run synchronously so later rows can reference it.
func (b *Backend) StartRun(run *core.ServerRun) error {
	row := convert.CoreToServerRun(*run)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert server run: %w", err)
	}
	b.runID.Store(uint64(row.ID))
	b.runUUID.Store(row.RunID)
	return nil
}

// EndRun flushes the queues and stamps the run's end.
func (b *Backend) EndRun(end core.RunEnd) error {
	b.Flush()
	err := b.deps.DB.Model(&model.ServerRun{}).
		Where("id = ?", b.runID.Load()).
		Updates(map[string]any{"end_time": end.EndTime, "end_reason": end.Reason}).Error
	if err != nil {
		return fmt.Errorf("failed to close server run: %w", err)
	}
	return nil
}

func (b *Backend) currentRun() uint {
	return uint(b.runID.Load())
}

func (b *Backend) RecordJoin(e *core.PlayerJoin) error {
	b.queues.Joins.Push(convert.CoreToPlayerJoin(*e, b.currentRun()))
	return nil
}

func (b *Backend) RecordPart(e *core.PlayerPart) error {
	b.queues.Parts.Push(convert.CoreToPlayerPart(*e, b.currentRun()))
	return nil
}

func (b *Backend) RecordState(s *core.StateSample) error {
	b.queues.States.Push(convert.CoreToStateSample(*s, b.currentRun()))
	return nil
}

func (b *Backend) RecordKick(e *core.Kick) error {
	b.queues.Kicks.Push(convert.CoreToKick(*e, b.currentRun()))
	return nil
}

func (b *Backend) RecordAnomaly(e *core.Anomaly) error {
	b.queues.Anomalies.Push(convert.CoreToAnomaly(*e, b.currentRun()))
	return nil
}

func (b *Backend) RecordFlagEvent(e *core.FlagEvent) error {
	b.queues.FlagEvents.Push(convert.CoreToFlagEvent(*e, b.currentRun()))
	return nil
}

// RecordPerformance queues a monitor snapshot.
func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.queues.Performance.Push(convert.CoreToServerPerformance(*p, b.currentRun()))
	return nil
}

// QueueLengths reports the number of rows waiting per table.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"player_joins":        b.queues.Joins.Len(),
		"player_parts":        b.queues.Parts.Len(),
		"state_samples":       b.queues.States.Len(),
		"kicks":               b.queues.Kicks.Len(),
		"anomalies":           b.queues.Anomalies.Len(),
		"flag_events":         b.queues.FlagEvents.Len(),
		"server_performances": b.queues.Performance.Len(),
	}
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed batches go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}
	tx.Commit()
}

// Flush drains every queue into the database.
func (b *Backend) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB
	writeQueue(db, b.queues.Joins, "player joins", b.log)
	writeQueue(db, b.queues.Parts, "player parts", b.log)
	writeQueue(db, b.queues.States, "state samples", b.log)
	writeQueue(db, b.queues.Kicks, "kicks", b.log)
	writeQueue(db, b.queues.Anomalies, "anomalies", b.log)
	writeQueue(db, b.queues.FlagEvents, "flag events", b.log)
	writeQueue(db, b.queues.Performance, "server performance", b.log)
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			b.Flush()
			b.log.Debug("Flushed write queues", "duration", time.Since(start))
		}
	}
}
