package handlers

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/negotiate"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/pkg/protocol"
)

type rejection struct {
	code   uint16
	reason string
}

func (r *rejection) Error() string { return r.reason }

// Enter handles a join request. Capabilities are recorded but never gate
// entry.
func (s *Service) Enter(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	if sess.Handshake != session.Connecting {
		return fmt.Errorf("%w: enter while %s", ErrProtocol, sess.Handshake)
	}

	req, err := protocol.UnpackEnterRequest(e.Frame.Payload)
	if err != nil {
		s.reject(sess, &rejection{protocol.RejectBadRequest, "malformed enter request"}, "")
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if err := s.checkEnter(sess, req); err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			s.reject(sess, rej, req.Callsign)
		}
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sess.Callsign = req.Callsign
	sess.Email = req.Email
	sess.Team = req.Team
	sess.Type = req.Type
	sess.Version = req.Version
	sess.Capabilities = session.NewCapabilities(req.Capabilities...)
	sess.Handshake = session.Negotiating

	s.send(sess, protocol.Accept{SessionID: uint8(sess.ID)}.Frame())
	s.send(sess, protocol.SetVar{Vars: s.deps.World.Vars()}.Frame())

	added := addPlayer(sess).Frame()
	for _, peer := range s.deps.Sessions.Entered() {
		s.send(sess, addPlayer(peer).Frame())
	}
	s.broadcast(added, sess)

	s.log.Info("Player accepted", "session", sess.ID, "callsign", sess.Callsign, "team", sess.Team,
		"observer", sess.Observer(), "capabilities", sess.Capabilities.List(), "addr", sess.RemoteAddr())

	s.deps.Bus.Publish(events.PlayerJoinData{
		Player:  player(sess),
		Time:    e.Received,
		Team:    sess.Team,
		Type:    sess.Type,
		Address: sess.RemoteAddr(),
	})
	return nil
}

func addPlayer(sess *session.Session) protocol.AddPlayer {
	return protocol.AddPlayer{SessionID: uint8(sess.ID), Type: sess.Type, Team: sess.Team, Callsign: sess.Callsign}
}

func (s *Service) checkEnter(sess *session.Session, req protocol.EnterRequest) error {
	switch {
	case req.Version != protocol.ProtocolVersion:
		return &rejection{protocol.RejectBadVersion, fmt.Sprintf("protocol version %q not supported", req.Version)}
	case req.Type != protocol.TankPlayer && req.Type != protocol.ComputerPlayer && req.Type != protocol.ObserverType:
		return &rejection{protocol.RejectBadType, fmt.Sprintf("unknown player type %d", req.Type)}
	case req.Team > protocol.MaxTeam:
		return &rejection{protocol.RejectBadTeam, fmt.Sprintf("unknown team %d", req.Team)}
	case !validCallsign(req.Callsign):
		return &rejection{protocol.RejectBadCallsign, "invalid callsign"}
	case s.deps.Sessions.CallsignTaken(req.Callsign, sess.ID):
		return &rejection{protocol.RejectRepeatCallsign, "callsign already in use"}
	}
	return nil
}

func validCallsign(cs string) bool {
	if strings.TrimSpace(cs) == "" || len(cs) >= protocol.CallsignLen {
		return false
	}
	for _, r := range cs {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// reject answers an enter request and closes the connection.
func (s *Service) reject(sess *session.Session, rej *rejection, callsign string) {
	s.stats.Rejected++
	s.send(sess, protocol.EnterReject{Code: rej.code, Reason: rej.reason}.Frame())
	sess.Handshake = session.Rejected

	s.log.Info("Enter rejected", "session", sess.ID, "callsign", callsign, "reason", rej.reason, "addr", sess.RemoteAddr())
	s.deps.Bus.Publish(events.EnterRejectedData{
		Time:     s.deps.Clock(),
		Address:  sess.RemoteAddr(),
		Callsign: callsign,
		Code:     rej.code,
		Reason:   rej.reason,
	})
	s.RemovePlayer(sess.ID, "rejected: "+rej.reason)
}

// RejectFull answers a connection that arrived while the table was full.
// The session is not in the table so only the reply is sent.
func RejectFull(t session.Transport) error {
	return t.Send(protocol.EnterReject{Code: protocol.RejectServerFull, Reason: "server full"}.Frame())
}

// NegotiateFlags replies with the flag types the client did not declare
// but may meet on this server, then completes the handshake.
func (s *Service) NegotiateFlags(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	if sess.Handshake != session.Negotiating && sess.Handshake != session.Entered {
		return fmt.Errorf("%w: negotiate while %s", ErrProtocol, sess.Handshake)
	}

	req, err := protocol.UnpackNegotiateFlags(e.Frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sess.Capabilities = session.NewCapabilities(req.Types...)
	missing := s.deps.Negotiator.Negotiate(negotiate.Set(sess.Capabilities))
	ordered := s.deps.Negotiator.Ordered(missing)
	if len(ordered) > 0 {
		s.log.Debug("Client missing flag types", "session", sess.ID,
			"declared", sess.Capabilities.List(), "missing", ordered)
	}

	s.send(sess, protocol.NegotiateFlags{Types: ordered}.Frame())
	s.enterGame(sess)
	return nil
}

// enterGame completes the handshake and sends the full flag state.
func (s *Service) enterGame(sess *session.Session) {
	if sess.Handshake == session.Entered {
		return
	}
	sess.Handshake = session.Entered

	var update protocol.FlagUpdate
	for _, f := range s.deps.Flags.Snapshot() {
		if f.Status != flag.NoExist {
			update.Flags = append(update.Flags, f.State())
		}
	}
	s.send(sess, update.Frame())
}
