package session

import (
	"errors"
	"strings"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
)

// ErrTableFull is returned when every session id is taken.
var ErrTableFull = errors.New("session table full")

// MaxSessions is the largest table size the wire id space allows.
const MaxSessions = int(protocol.ServerPlayer)

// Table owns every live session, indexed by id.
type Table struct {
	slots []*Session
	count int
}

// NewTable creates a table with room for max sessions.
func NewTable(max int) *Table {
	if max > MaxSessions {
		max = MaxSessions
	}
	if max < 1 {
		max = 1
	}
	return &Table{slots: make([]*Session, max)}
}

// Cap returns the number of slots.
func (t *Table) Cap() int {
	return len(t.slots)
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	return t.count
}

// Add allocates the lowest free id for a new connection.
func (t *Table) Add(tr Transport, now time.Time) (*Session, error) {
	for i, s := range t.slots {
		if s != nil {
			continue
		}
		s = &Session{
			ID:        ID(i),
			Handshake: Connecting,
			Joined:    now,
			HeldFlag:  NoFlag,
			transport: tr,
		}
		t.slots[i] = s
		t.count++
		return s, nil
	}
	return nil, ErrTableFull
}

// Get looks up a live session.
func (t *Table) Get(id ID) (*Session, bool) {
	if int(id) >= len(t.slots) || t.slots[id] == nil {
		return nil, false
	}
	return t.slots[id], true
}

// Remove frees id and closes its transport. The returned session is no
// longer reachable through the table.
func (t *Table) Remove(id ID) (*Session, error) {
	s, ok := t.Get(id)
	if !ok {
		return nil, nil
	}
	t.slots[id] = nil
	t.count--
	return s, s.close()
}

// Each calls fn for every live session in id order.
func (t *Table) Each(fn func(*Session)) {
	for _, s := range t.slots {
		if s != nil {
			fn(s)
		}
	}
}

// Entered returns the sessions that completed the handshake, in id order.
func (t *Table) Entered() []*Session {
	var out []*Session
	t.Each(func(s *Session) {
		if s.Entered() {
			out = append(out, s)
		}
	})
	return out
}

// CallsignTaken reports whether another live session uses callsign,
// ignoring case.
func (t *Table) CallsignTaken(callsign string, except ID) bool {
	for _, s := range t.slots {
		if s == nil || s.ID == except || s.Callsign == "" {
			continue
		}
		if strings.EqualFold(s.Callsign, callsign) {
			return true
		}
	}
	return false
}
