package handlers

import (
	"fmt"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/validate"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// PlayerUpdate handles a movement report. Stale reports are dropped
// silently. Observer reports are stored and published without checks or
// relay. Everything else is validated before the frame is relayed untouched.
func (s *Service) PlayerUpdate(e dispatcher.Event) error {
	sess, err := s.session(e.SessionID)
	if err != nil {
		return err
	}
	switch sess.Handshake {
	case session.Negotiating:
		s.enterGame(sess)
	case session.Entered:
	default:
		return fmt.Errorf("%w: update while %s", ErrProtocol, sess.Handshake)
	}

	u, err := protocol.UnpackPlayerUpdate(e.Frame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if u.SessionID != uint8(sess.ID) {
		return fmt.Errorf("%w: update for player %d from session %d", ErrProtocol, u.SessionID, sess.ID)
	}

	if sess.IsStale(u.Order) {
		s.stats.Stale++
		s.log.Debug("Stale update dropped", "session", sess.ID, "order", u.Order, "last", sess.LastState().Order)
		return nil
	}

	report := session.StateFromUpdate(u, e.Received)

	if sess.Observer() {
		sess.Accept(report)
		s.publishSample(sess, report)
		return nil
	}

	outcome := s.deps.Validator.Validate(sess, report, e.Received)
	switch outcome.Verdict {
	case validate.Kick:
		s.Kick(sess.ID, outcome.Reason)
		return nil
	case validate.LogOnly:
		s.stats.Anomalies++
		s.log.Warn("Suspicious update", "session", sess.ID, "callsign", sess.Callsign,
			"check", outcome.Check, "measured", outcome.Measured, "limit", outcome.Limit)
		s.deps.Bus.Publish(events.AnomalyData{
			Player:   player(sess),
			Time:     e.Received,
			Check:    outcome.Check,
			Reason:   outcome.Reason,
			Measured: outcome.Measured,
			Limit:    outcome.Limit,
		})
	}

	sess.Accept(report)
	sess.Alive = report.Alive()

	s.relay(sess, e.Frame)
	s.stats.Relayed++
	s.publishSample(sess, report)

	if sess.Alive && sess.HeldFlag == session.NoFlag {
		s.pickup(sess)
	}
	return nil
}

// relay forwards the frame exactly as received.
func (s *Service) relay(from *session.Session, f protocol.Frame) {
	s.broadcast(f, from)
}

// publishSample announces an accepted report. Observer samples go out too,
// flagged through Player.Observer, so audit can decide whether to keep them.
func (s *Service) publishSample(sess *session.Session, report session.State) {
	if s.deps.Bus.Count(events.UpdateRelayed) == 0 {
		return
	}
	s.deps.Bus.Publish(events.UpdateRelayedData{
		Player:          player(sess),
		Time:            report.Received,
		Order:           report.Order,
		Status:          report.Status,
		Position:        report.Position,
		Velocity:        report.Velocity,
		Azimuth:         report.Azimuth,
		AngularVelocity: report.AngularVelocity,
	})
}
