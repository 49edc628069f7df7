// Package handlers implements the per-message game logic and the relay of
// validated state to other sessions.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/negotiate"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/validate"
	"github.com/bzforge/bzfs/internal/world"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// ErrProtocol marks a malformed frame or an out-of-sequence handshake.
var ErrProtocol = errors.New("protocol error")

// Removal reasons.
const (
	ReasonLeft       = "left"
	ReasonShutdown   = "server shutdown"
	ReasonConnection = "connection lost"
	ReasonInternal   = "internal error"
)

// Validator decides what to do with an in-sequence movement report.
type Validator interface {
	Validate(s *session.Session, report session.State, now time.Time) validate.Outcome
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Sessions   *session.Table
	Flags      *flag.Registry
	Validator  Validator
	Negotiator *negotiate.Negotiator
	Bus        *events.Bus
	World      *world.Context
	Logger     *slog.Logger

	// TransitGrace suppresses speed checks after a player drops a flag.
	TransitGrace time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Stats are running totals read by the monitor.
type Stats struct {
	Relayed   uint64
	Stale     uint64
	Kicked    uint64
	Anomalies uint64
	Rejected  uint64
}

// Service provides handler methods for processing client frames. All
// methods run on the tick thread.
type Service struct {
	deps  Dependencies
	log   *slog.Logger
	stats Stats
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, log: deps.Logger.With("component", "handlers")}
}

// Stats returns the running totals.
func (s *Service) Stats() Stats {
	return s.stats
}

// Register wires every client message onto d.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(protocol.MsgEnter, s.Enter, dispatcher.Logged(), dispatcher.Recovered())
	d.Register(protocol.MsgNegotiateFlags, s.NegotiateFlags, dispatcher.Logged(), dispatcher.Recovered())
	d.Register(protocol.MsgPlayerUpdate, s.PlayerUpdate, dispatcher.Recovered())
	d.Register(protocol.MsgGrabFlag, s.GrabFlag, dispatcher.Logged(), dispatcher.Recovered())
	d.Register(protocol.MsgDropFlag, s.DropFlag, dispatcher.Logged(), dispatcher.Recovered())
	d.Register(protocol.MsgMessage, s.Message, dispatcher.Recovered())
	d.Register(protocol.MsgExit, s.Exit, dispatcher.Logged(), dispatcher.Recovered())
}

func (s *Service) session(id uint8) (*session.Session, error) {
	sess, ok := s.deps.Sessions.Get(session.ID(id))
	if !ok {
		return nil, fmt.Errorf("no session %d", id)
	}
	return sess, nil
}

func player(sess *session.Session) events.Player {
	return events.Player{SessionID: uint8(sess.ID), Callsign: sess.Callsign, Observer: sess.Observer()}
}

// broadcast sends f to every entered session except skip. Sessions whose
// transport fails are removed afterwards.
func (s *Service) broadcast(f protocol.Frame, skip *session.Session) {
	var failed []session.ID
	for _, peer := range s.deps.Sessions.Entered() {
		if peer == skip {
			continue
		}
		if err := peer.Send(f); err != nil {
			s.log.Warn("Send failed", "session", peer.ID, "code", protocol.CodeString(f.Code), "error", err)
			failed = append(failed, peer.ID)
		}
	}
	for _, id := range failed {
		s.RemovePlayer(id, ReasonConnection)
	}
}

func (s *Service) send(sess *session.Session, f protocol.Frame) {
	if err := sess.Send(f); err != nil {
		s.log.Warn("Send failed", "session", sess.ID, "code", protocol.CodeString(f.Code), "error", err)
	}
}

// notice sends a chat line from the server.
func (s *Service) notice(to *session.Session, text string) {
	m := protocol.Message{From: protocol.ServerPlayer, To: protocol.AllPlayers, Text: text}
	if to != nil {
		m.To = uint8(to.ID)
		s.send(to, m.Frame())
		return
	}
	s.broadcast(m.Frame(), nil)
}

// Kick removes a session after telling it and everyone else why.
func (s *Service) Kick(id session.ID, reason string) {
	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		return
	}
	s.stats.Kicked++
	s.log.Info("Kicking player", "session", id, "callsign", sess.Callsign, "reason", reason)

	s.notice(sess, "Autokick: "+reason)
	s.deps.Bus.Publish(events.KickedData{Player: player(sess), Time: s.deps.Clock(), Reason: reason})

	for _, peer := range s.deps.Sessions.Entered() {
		if peer != sess {
			s.notice(peer, fmt.Sprintf("%s kicked: %s", sess.Callsign, reason))
		}
	}
	s.RemovePlayer(id, "kicked: "+reason)
}

// RemovePlayer drops the session's flag, tells the others and frees the id.
func (s *Service) RemovePlayer(id session.ID, reason string) {
	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		return
	}
	announced := sess.Handshake == session.Negotiating || sess.Handshake == session.Entered

	// The registry is authoritative for ownership.
	if idx, held := s.deps.Flags.HeldBy(int(sess.ID)); held {
		sess.HeldFlag = idx
		s.dropFlag(sess, sess.LastState().Position)
	}

	if _, err := s.deps.Sessions.Remove(id); err != nil {
		s.log.Debug("Closing transport", "session", id, "error", err)
	}

	if !announced {
		return
	}

	s.log.Info("Player removed", "session", id, "callsign", sess.Callsign, "reason", reason)
	s.broadcast(protocol.RemovePlayer{SessionID: uint8(id)}.Frame(), nil)
	s.deps.Bus.Publish(events.PlayerPartData{Player: player(sess), Time: s.deps.Clock(), Reason: reason})
}

// RemoveAll removes every session, used at shutdown.
func (s *Service) RemoveAll(reason string) {
	var ids []session.ID
	s.deps.Sessions.Each(func(sess *session.Session) { ids = append(ids, sess.ID) })
	for _, id := range ids {
		s.RemovePlayer(id, reason)
	}
}

// Tick advances the flag registry and tells clients about flags that
// landed, expired or respawned.
func (s *Service) Tick(now time.Time) {
	changed := s.deps.Flags.Tick(now)
	if len(changed) == 0 {
		return
	}
	update := protocol.FlagUpdate{Flags: make([]protocol.FlagState, 0, len(changed))}
	for _, idx := range changed {
		f, _ := s.deps.Flags.Get(idx)
		update.Flags = append(update.Flags, f.State())
	}
	s.broadcast(update.Frame(), nil)
}

// Exit handles a client saying goodbye.
func (s *Service) Exit(e dispatcher.Event) error {
	s.RemovePlayer(session.ID(e.SessionID), ReasonLeft)
	return nil
}

// Message relays chat. The sender id is always the originating session.
func (s *Service) Message(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	if !sess.Entered() {
		return fmt.Errorf("%w: message before entering", ErrProtocol)
	}
	m, err := protocol.UnpackMessage(e.Frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	m.From = uint8(sess.ID)

	if m.To == protocol.AllPlayers {
		s.broadcast(m.Frame(), nil)
	} else {
		target, ok := s.deps.Sessions.Get(session.ID(m.To))
		if !ok || !target.Entered() {
			s.notice(sess, "Unknown player")
			return nil
		}
		s.send(target, m.Frame())
		if target != sess {
			s.send(sess, m.Frame())
		}
	}

	s.deps.Bus.Publish(events.MessageData{Time: e.Received, From: m.From, To: m.To, Text: m.Text})
	return nil
}
