package handlers

import (
	"errors"
	"fmt"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// GrabFlag handles an explicit pickup request.
func (s *Service) GrabFlag(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	if !sess.Entered() || sess.Observer() {
		return fmt.Errorf("%w: grab from %s session", ErrProtocol, sess.Handshake)
	}
	req, err := protocol.UnpackGrabFlagRequest(e.Frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if sess.HeldFlag != session.NoFlag || !sess.Alive {
		return nil
	}

	err = s.grabFlag(sess, int(req.Index))
	switch {
	case errors.Is(err, flag.ErrBadIndex):
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	case err != nil:
		// Lost a race for the flag; nothing to tell anyone.
		s.log.Debug("Grab refused", "session", sess.ID, "flag", req.Index, "error", err)
	}
	return nil
}

// DropFlag handles a player letting go of its flag.
func (s *Service) DropFlag(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	if !sess.Entered() {
		return fmt.Errorf("%w: drop from %s session", ErrProtocol, sess.Handshake)
	}
	req, err := protocol.UnpackDropFlagRequest(e.Frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if sess.HeldFlag == session.NoFlag {
		return nil
	}
	s.dropFlag(sess, req.Position)
	return nil
}

// pickup grabs the closest grounded flag the tank is touching.
func (s *Service) pickup(sess *session.Session) {
	ws := s.deps.World.Settings()
	idx, ok := s.deps.Flags.Nearest(sess.LastState().Position, ws.TankRadius+ws.FlagRadius)
	if !ok {
		return
	}
	if err := s.grabFlag(sess, idx); err != nil {
		s.log.Debug("Proximity grab refused", "session", sess.ID, "flag", idx, "error", err)
	}
}

func (s *Service) grabFlag(sess *session.Session, idx int) error {
	if err := s.deps.Flags.Grab(idx, int(sess.ID)); err != nil {
		return err
	}
	sess.HeldFlag = idx
	f, _ := s.deps.Flags.Get(idx)

	s.broadcast(protocol.FlagEvent{Code: protocol.MsgGrabFlag, SessionID: uint8(sess.ID), Flag: f.State()}.Frame(), nil)
	s.deps.Bus.Publish(events.FlagGrabbedData{
		Player:    player(sess),
		Time:      s.deps.Clock(),
		FlagIndex: idx,
		FlagType:  f.Abbrev(),
		Position:  sess.LastState().Position,
	})
	return nil
}

func (s *Service) dropFlag(sess *session.Session, pos protocol.Vec3) {
	idx := sess.HeldFlag
	before, _ := s.deps.Flags.Get(idx)

	res, err := s.deps.Flags.Drop(idx, pos)
	sess.HeldFlag = session.NoFlag
	if err != nil {
		s.log.Error("Drop failed", "session", sess.ID, "flag", idx, "error", err)
		return
	}

	now := s.deps.Clock()
	sess.TransitGraceUntil = now.Add(s.deps.TransitGrace)

	after, _ := s.deps.Flags.Get(idx)
	frame := protocol.FlagEvent{Code: protocol.MsgDropFlag, SessionID: uint8(sess.ID), Flag: after.State()}.Frame()
	// The dropper may be on its way out, so its send failure must not
	// trigger another removal.
	s.broadcast(frame, sess)
	s.send(sess, frame)

	s.deps.Bus.Publish(events.FlagDroppedData{
		Player:    player(sess),
		Time:      now,
		FlagIndex: idx,
		FlagType:  before.Abbrev(),
		Position:  pos,
		Retired:   res.Retired,
	})
}
