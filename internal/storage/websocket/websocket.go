// Package websocket streams audit records to a remote collector as JSON
// envelopes.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bzforge/bzfs/pkg/core"
	"github.com/bzforge/bzfs/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams run data over WebSocket. Records are fire-and-forget;
// start_run and end_run wait for the collector's ack.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("component", "storage.websocket")),
		cfg:  cfg,
	}
}

// Init connects to the collector.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the collector.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped is the number of envelopes discarded because the send queue was
// full or the socket was down.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun announces the run and waits for the ack. The envelope is cached
// for replay after a reconnect.
func (b *Backend) StartRun(run *core.ServerRun) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.cachedStartRun = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun closes the run on the collector and waits for the ack.
func (b *Backend) EndRun(end core.RunEnd) error {
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload(end))
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)

	b.conn.mu.Lock()
	b.conn.cachedStartRun = nil
	b.conn.mu.Unlock()
	return err
}

func (b *Backend) RecordJoin(e *core.PlayerJoin) error {
	return b.sendEnvelope(streaming.TypePlayerJoin, e)
}

func (b *Backend) RecordPart(e *core.PlayerPart) error {
	return b.sendEnvelope(streaming.TypePlayerPart, e)
}

func (b *Backend) RecordState(s *core.StateSample) error {
	return b.sendEnvelope(streaming.TypeStateSample, s)
}

func (b *Backend) RecordKick(e *core.Kick) error {
	return b.sendEnvelope(streaming.TypeKick, e)
}

func (b *Backend) RecordAnomaly(e *core.Anomaly) error {
	return b.sendEnvelope(streaming.TypeAnomaly, e)
}

func (b *Backend) RecordFlagEvent(e *core.FlagEvent) error {
	return b.sendEnvelope(streaming.TypeFlagEvent, e)
}
