// Package events is the synchronous publish/subscribe bus that plugins use
// to observe protocol activity.
package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
)

// Kind selects a handler bucket.
type Kind int

const (
	PlayerJoin Kind = iota
	PlayerPart
	UpdateRelayed
	EnterRejected
	Kicked
	Anomaly
	FlagGrabbed
	FlagDropped
	MessageBroadcast
)

var kindNames = map[Kind]string{
	PlayerJoin:       "player_join",
	PlayerPart:       "player_part",
	UpdateRelayed:    "update_relayed",
	EnterRejected:    "enter_rejected",
	Kicked:           "kicked",
	Anomaly:          "anomaly",
	FlagGrabbed:      "flag_grabbed",
	FlagDropped:      "flag_dropped",
	MessageBroadcast: "message_broadcast",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Data is an event payload. The concrete type is fixed by its Kind.
type Data interface {
	Kind() Kind
}

// Player identifies the session an event is about.
type Player struct {
	SessionID uint8
	Callsign  string
	Observer  bool
}

type PlayerJoinData struct {
	Player
	Time    time.Time
	Team    uint16
	Type    uint16
	Address string
}

type PlayerPartData struct {
	Player
	Time   time.Time
	Reason string
}

// UpdateRelayedData carries an accepted report that went out to the others.
// Observer reports are published as well but never leave the server.
type UpdateRelayedData struct {
	Player
	Time            time.Time
	Order           uint16
	Status          uint16
	Position        protocol.Vec3
	Velocity        protocol.Vec3
	Azimuth         float32
	AngularVelocity float32
}

type EnterRejectedData struct {
	Time     time.Time
	Address  string
	Callsign string
	Code     uint16
	Reason   string
}

type KickedData struct {
	Player
	Time   time.Time
	Reason string
}

// AnomalyData is a tolerated validation failure.
type AnomalyData struct {
	Player
	Time     time.Time
	Check    string
	Reason   string
	Measured float64
	Limit    float64
}

type FlagGrabbedData struct {
	Player
	Time      time.Time
	FlagIndex int
	FlagType  string
	Position  protocol.Vec3
}

type FlagDroppedData struct {
	Player
	Time      time.Time
	FlagIndex int
	FlagType  string
	Position  protocol.Vec3
	Retired   bool
}

type MessageData struct {
	Time time.Time
	From uint8
	To   uint8
	Text string
}

func (PlayerJoinData) Kind() Kind    { return PlayerJoin }
func (PlayerPartData) Kind() Kind    { return PlayerPart }
func (UpdateRelayedData) Kind() Kind { return UpdateRelayed }
func (EnterRejectedData) Kind() Kind { return EnterRejected }
func (KickedData) Kind() Kind        { return Kicked }
func (AnomalyData) Kind() Kind       { return Anomaly }
func (FlagGrabbedData) Kind() Kind   { return FlagGrabbed }
func (FlagDroppedData) Kind() Kind   { return FlagDropped }
func (MessageData) Kind() Kind       { return MessageBroadcast }

// Handler receives published events. Implementations must be comparable
// so they can be removed again; pointer receivers are the usual choice.
type Handler interface {
	HandleEvent(d Data)
}

// Bus dispatches events to handlers in registration order on the caller's
// goroutine.
type Bus struct {
	handlers map[Kind][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[Kind][]Handler), logger: logger}
}

// Register appends h to the handlers for kind.
func (b *Bus) Register(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Remove drops h from kind and reports whether it was registered.
func (b *Bus) Remove(kind Kind, h Handler) bool {
	list := b.handlers[kind]
	for i, cur := range list {
		if cur == h {
			next := make([]Handler, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[kind] = next
			return true
		}
	}
	return false
}

// RemoveAll drops h from every kind.
func (b *Bus) RemoveAll(h Handler) {
	for kind := range b.handlers {
		b.Remove(kind, h)
	}
}

// Count returns the number of handlers registered for kind.
func (b *Bus) Count(kind Kind) int {
	return len(b.handlers[kind])
}

// Publish delivers d to every handler of its kind. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(d Data) {
	// Remove replaces the slice, so handlers may unregister mid-delivery.
	for _, h := range b.handlers[d.Kind()] {
		b.deliver(h, d)
	}
}

func (b *Bus) deliver(h Handler, d Data) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "kind", d.Kind().String(), "panic", r)
		}
	}()
	h.HandleEvent(d)
}
