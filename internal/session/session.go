// Package session tracks connected clients and their last accepted state.
package session

import (
	"math"
	"sort"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
)

// ID identifies a session on the wire. IDs are reused after disconnect.
type ID uint8

// HandshakeState is where a session is in the enter sequence.
type HandshakeState int

const (
	Connecting HandshakeState = iota
	Negotiating
	Entered
	Rejected
)

func (h HandshakeState) String() string {
	switch h {
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Entered:
		return "entered"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// NoFlag marks a session that carries nothing.
const NoFlag = -1

// Transport is the outbound half of a client connection.
type Transport interface {
	Send(f protocol.Frame) error
	Close() error
	RemoteAddr() string
}

// Capabilities is the set of flag types a client declared it understands.
type Capabilities map[string]struct{}

// NewCapabilities builds a set from abbreviations.
func NewCapabilities(abbrevs ...string) Capabilities {
	c := make(Capabilities, len(abbrevs))
	for _, a := range abbrevs {
		c[a] = struct{}{}
	}
	return c
}

// Has reports whether abbrev was declared.
func (c Capabilities) Has(abbrev string) bool {
	_, ok := c[abbrev]
	return ok
}

// List returns the declared abbreviations in sorted order.
func (c Capabilities) List() []string {
	out := make([]string, 0, len(c))
	for a := range c {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// State is one kinematic report from a client.
type State struct {
	Timestamp       float32
	Order           uint16
	Status          uint16
	Position        protocol.Vec3
	Velocity        protocol.Vec3
	Azimuth         float32
	AngularVelocity float32
	Received        time.Time
}

// StateFromUpdate copies the kinematic fields out of a wire update.
func StateFromUpdate(u protocol.PlayerUpdate, received time.Time) State {
	return State{
		Timestamp:       u.Timestamp,
		Order:           u.Order,
		Status:          u.Status,
		Position:        u.Position,
		Velocity:        u.Velocity,
		Azimuth:         u.Azimuth,
		AngularVelocity: u.AngularVelocity,
		Received:        received,
	}
}

// Alive reports whether the alive status bit is set.
func (s State) Alive() bool {
	return s.Status&protocol.StatusAlive != 0
}

// Session is one live client connection. It is owned by a Table and only
// touched from the tick thread.
type Session struct {
	ID        ID
	Callsign  string
	Email     string
	Team      uint16
	Type      uint16
	Version   string
	Handshake HandshakeState
	Joined    time.Time

	Capabilities Capabilities

	// Alive is the server's view, which can lag the client's status bits.
	Alive    bool
	HeldFlag int

	// TransitGraceUntil suppresses speed checks after a flag drop.
	TransitGraceUntil time.Time

	last     State
	hasState bool

	transport Transport
}

// Observer reports whether the session is a passive spectator.
func (s *Session) Observer() bool {
	return s.Type == protocol.ObserverType
}

// Entered reports whether the session completed the handshake.
func (s *Session) Entered() bool {
	return s.Handshake == Entered
}

// HasState reports whether any report has been accepted yet.
func (s *Session) HasState() bool {
	return s.hasState
}

// LastState returns the last accepted report.
func (s *Session) LastState() State {
	return s.last
}

// OrderWrapWindow bounds the u16 order rollover. After a last order in the
// top window, an order in the bottom window is a continuation, not a replay.
const OrderWrapWindow = 256

// IsStale reports whether order does not advance past the last accepted one.
func (s *Session) IsStale(order uint16) bool {
	if !s.hasState {
		return false
	}
	last := s.last.Order
	if last > math.MaxUint16-OrderWrapWindow && order < OrderWrapWindow {
		return false
	}
	return order <= last
}

// Accept records st as the newest accepted report.
func (s *Session) Accept(st State) {
	s.last = st
	s.hasState = true
}

// Send writes a frame to the client. Sessions without a transport drop it.
func (s *Session) Send(f protocol.Frame) error {
	if s.transport == nil {
		return nil
	}
	return s.transport.Send(f)
}

// RemoteAddr returns the client's network address.
func (s *Session) RemoteAddr() string {
	if s.transport == nil {
		return ""
	}
	return s.transport.RemoteAddr()
}

func (s *Session) close() error {
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}
