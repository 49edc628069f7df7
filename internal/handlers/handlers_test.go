package handlers

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/negotiate"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/validate"
	"github.com/bzforge/bzfs/internal/world"
	"github.com/bzforge/bzfs/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames []protocol.Frame
	closed bool
	fail   bool
}

func (c *fakeConn) Send(f protocol.Frame) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "192.0.2.1:5154" }

func (c *fakeConn) codes() []uint16 {
	out := make([]uint16, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Code
	}
	return out
}

func (c *fakeConn) last(code uint16) (protocol.Frame, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Code == code {
			return c.frames[i], true
		}
	}
	return protocol.Frame{}, false
}

type recorder struct {
	got []events.Data
}

func (r *recorder) HandleEvent(d events.Data) { r.got = append(r.got, d) }

func (r *recorder) kinds() []events.Kind {
	out := make([]events.Kind, len(r.got))
	for i, d := range r.got {
		out[i] = d.Kind()
	}
	return out
}

type countingValidator struct {
	inner  Validator
	orders []uint16
}

func (v *countingValidator) Validate(s *session.Session, r session.State, now time.Time) validate.Outcome {
	v.orders = append(v.orders, r.Order)
	return v.inner.Validate(s, r, now)
}

type harness struct {
	svc       *Service
	table     *session.Table
	flags     *flag.Registry
	events    *recorder
	validator *countingValidator
	now       time.Time
}

var flagSpot = protocol.Vec3{10, 20, 0}

func newHarness(t *testing.T, required map[string]int) *harness {
	t.Helper()
	h := &harness{now: time.Unix(1000, 0), events: &recorder{}}
	clock := func() time.Time { return h.now }

	catalog := flag.DefaultCatalog()
	h.flags = flag.NewRegistry(flag.DefaultConfig(), catalog, 4,
		flag.PlacerFunc(func(*flag.Type) protocol.Vec3 { return flagSpot }),
		flag.WithClock(clock), flag.WithRand(rand.New(rand.NewPCG(1, 1))))
	h.table = session.NewTable(8)

	settings := world.Settings{Size: 800, Gravity: -9.81, TankSpeed: 25, TankRadius: 4.32, FlagRadius: 2.5, FlagAltitude: 11}
	wctx := world.NewContext(settings)

	vcfg := validate.DefaultConfig()
	v, err := validate.New(vcfg, h.flags, wctx)
	require.NoError(t, err)
	h.validator = &countingValidator{inner: v}

	var all []string
	for _, ft := range catalog.All() {
		all = append(all, ft.Abbrev)
	}

	bus := events.NewBus(nil)
	for k := events.PlayerJoin; k <= events.MessageBroadcast; k++ {
		bus.Register(k, h.events)
	}

	h.svc = NewService(Dependencies{
		Sessions:     h.table,
		Flags:        h.flags,
		Validator:    h.validator,
		Negotiator:   negotiate.New(negotiate.Config{Required: required}, all),
		Bus:          bus,
		World:        wctx,
		TransitGrace: 5 * time.Second,
		Clock:        clock,
	})
	return h
}

func (h *harness) connect(t *testing.T) (*session.Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := h.table.Add(conn, h.now)
	require.NoError(t, err)
	return s, conn
}

func (h *harness) event(s *session.Session, f protocol.Frame) dispatcher.Event {
	return dispatcher.Event{SessionID: uint8(s.ID), Frame: f, Received: h.now}
}

func enterRequest(callsign string, typ uint16, caps ...string) protocol.EnterRequest {
	return protocol.EnterRequest{
		Type:         typ,
		Team:         1,
		Callsign:     callsign,
		Version:      protocol.ProtocolVersion,
		Capabilities: caps,
	}
}

// join runs the whole handshake and clears the recorded frames and events.
func (h *harness) join(t *testing.T, callsign string, typ uint16) (*session.Session, *fakeConn) {
	t.Helper()
	s, conn := h.connect(t)
	require.NoError(t, h.svc.Enter(h.event(s, enterRequest(callsign, typ).Frame())))
	require.NoError(t, h.svc.NegotiateFlags(h.event(s, protocol.NegotiateFlags{}.Frame())))
	require.Equal(t, session.Entered, s.Handshake)
	h.events.got = nil
	return s, conn
}

func clearFrames(conns ...*fakeConn) {
	for _, c := range conns {
		c.frames = nil
	}
}

func (h *harness) update(s *session.Session, order uint16, pos, vel protocol.Vec3) error {
	return h.svc.PlayerUpdate(h.event(s, protocol.PlayerUpdate{
		SessionID: uint8(s.ID),
		Order:     order,
		Status:    protocol.StatusAlive,
		Position:  pos,
		Velocity:  vel,
	}.Frame()))
}

func (h *harness) groundFlag(t *testing.T, abbrev string) int {
	t.Helper()
	idx, err := h.flags.Spawn(abbrev)
	require.NoError(t, err)
	h.flags.Tick(h.now.Add(time.Minute))
	return idx
}

func TestEnter_Accepted(t *testing.T) {
	h := newHarness(t, nil)
	_, otherConn := h.join(t, "alpha", protocol.TankPlayer)

	s, conn := h.connect(t)
	err := h.svc.Enter(h.event(s, enterRequest("bravo", protocol.TankPlayer, "V").Frame()))
	require.NoError(t, err)

	assert.Equal(t, session.Negotiating, s.Handshake)
	assert.Equal(t, "bravo", s.Callsign)
	assert.True(t, s.Capabilities.Has("V"))
	assert.Equal(t, []uint16{protocol.MsgAccept, protocol.MsgSetVar, protocol.MsgAddPlayer}, conn.codes())

	f, ok := otherConn.last(protocol.MsgAddPlayer)
	require.True(t, ok)
	added, err := protocol.UnpackAddPlayer(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, "bravo", added.Callsign)

	require.Len(t, h.events.got, 1)
	join := h.events.got[0].(events.PlayerJoinData)
	assert.Equal(t, "bravo", join.Callsign)
	assert.Equal(t, "192.0.2.1:5154", join.Address)
}

func TestEnter_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.EnterRequest
		code uint16
	}{
		{"bad version", protocol.EnterRequest{Callsign: "x", Version: "0001"}, protocol.RejectBadVersion},
		{"bad type", protocol.EnterRequest{Callsign: "x", Type: 9, Version: protocol.ProtocolVersion}, protocol.RejectBadType},
		{"bad team", protocol.EnterRequest{Callsign: "x", Team: 42, Version: protocol.ProtocolVersion}, protocol.RejectBadTeam},
		{"empty callsign", protocol.EnterRequest{Callsign: "  ", Version: protocol.ProtocolVersion}, protocol.RejectBadCallsign},
		{"control char", protocol.EnterRequest{Callsign: "a\tb", Version: protocol.ProtocolVersion}, protocol.RejectBadCallsign},
		{"repeat callsign", protocol.EnterRequest{Callsign: "ALPHA", Version: protocol.ProtocolVersion}, protocol.RejectRepeatCallsign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.join(t, "alpha", protocol.TankPlayer)

			s, conn := h.connect(t)
			err := h.svc.Enter(h.event(s, tt.req.Frame()))
			assert.ErrorIs(t, err, ErrProtocol)

			f, ok := conn.last(protocol.MsgReject)
			require.True(t, ok)
			rej, err := protocol.UnpackEnterReject(f.Payload)
			require.NoError(t, err)
			assert.Equal(t, tt.code, rej.Code)

			assert.True(t, conn.closed)
			_, ok = h.table.Get(s.ID)
			assert.False(t, ok)
			assert.Equal(t, []events.Kind{events.EnterRejected}, h.events.kinds())
			assert.Equal(t, uint64(1), h.svc.Stats().Rejected)
		})
	}
}

func TestEnter_Malformed(t *testing.T) {
	h := newHarness(t, nil)
	s, conn := h.connect(t)

	err := h.svc.Enter(h.event(s, protocol.Frame{Code: protocol.MsgEnter, Payload: []byte{0, 1}}))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.True(t, conn.closed)
	assert.Equal(t, 0, h.table.Len())
}

func TestEnter_Twice(t *testing.T) {
	h := newHarness(t, nil)
	s, _ := h.join(t, "alpha", protocol.TankPlayer)

	err := h.svc.Enter(h.event(s, enterRequest("alpha", protocol.TankPlayer).Frame()))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, session.Entered, s.Handshake)
}

func TestEnter_CapabilitiesNeverGateEntry(t *testing.T) {
	h := newHarness(t, map[string]int{"SW": 1})
	idx, err := h.flags.Spawn("SW")
	require.NoError(t, err)

	s, conn := h.connect(t)
	require.NoError(t, h.svc.Enter(h.event(s, enterRequest("alpha", protocol.TankPlayer).Frame())))
	_, rejected := conn.last(protocol.MsgReject)
	assert.False(t, rejected)

	clearFrames(conn)
	require.NoError(t, h.svc.NegotiateFlags(h.event(s, protocol.NegotiateFlags{}.Frame())))

	f, ok := conn.last(protocol.MsgNegotiateFlags)
	require.True(t, ok)
	reply, err := protocol.UnpackNegotiateFlags(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"SW"}, reply.Types)

	assert.Equal(t, session.Entered, s.Handshake)
	f, ok = conn.last(protocol.MsgFlagUpdate)
	require.True(t, ok)
	sync, err := protocol.UnpackFlagUpdate(f.Payload)
	require.NoError(t, err)
	require.Len(t, sync.Flags, 1)
	assert.Equal(t, uint16(idx), sync.Flags[0].Index)
	assert.Equal(t, "SW", sync.Flags[0].Type)
}

func TestNegotiate_DeclaredTypesNotMissing(t *testing.T) {
	h := newHarness(t, map[string]int{"SW": 1, "G": 2})
	s, conn := h.connect(t)
	require.NoError(t, h.svc.Enter(h.event(s, enterRequest("alpha", protocol.TankPlayer).Frame())))

	require.NoError(t, h.svc.NegotiateFlags(h.event(s, protocol.NegotiateFlags{Types: []string{"SW"}}.Frame())))
	f, _ := conn.last(protocol.MsgNegotiateFlags)
	reply, err := protocol.UnpackNegotiateFlags(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"G"}, reply.Types)
}

func TestNegotiate_BeforeEnter(t *testing.T) {
	h := newHarness(t, nil)
	s, _ := h.connect(t)
	err := h.svc.NegotiateFlags(h.event(s, protocol.NegotiateFlags{}.Frame()))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestPlayerUpdate_RelayExcludesOriginatorAndPending(t *testing.T) {
	h := newHarness(t, nil)
	a, aConn := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	pending, pendingConn := h.connect(t)
	require.NoError(t, h.svc.Enter(h.event(pending, enterRequest("charlie", protocol.TankPlayer).Frame())))
	clearFrames(aConn, bConn, pendingConn)

	frame := protocol.PlayerUpdate{
		SessionID: uint8(a.ID),
		Order:     1,
		Status:    protocol.StatusAlive,
		Position:  protocol.Vec3{100, 100, 0},
		Velocity:  protocol.Vec3{5, 0, 0},
	}.Frame()
	require.NoError(t, h.svc.PlayerUpdate(h.event(a, frame)))

	assert.Empty(t, aConn.frames)
	assert.Empty(t, pendingConn.frames)
	require.Len(t, bConn.frames, 1)
	assert.Equal(t, frame, bConn.frames[0], "relay forwards the frame verbatim")

	assert.Equal(t, uint16(1), a.LastState().Order)
	assert.Equal(t, []events.Kind{events.UpdateRelayed}, h.events.kinds())
	assert.Equal(t, uint64(1), h.svc.Stats().Relayed)
}

func TestPlayerUpdate_StaleNeverValidated(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	clearFrames(bConn)

	pos := protocol.Vec3{0, 0, 0}
	for _, order := range []uint16{3, 1, 3, 2, 5, 4, 6} {
		require.NoError(t, h.update(a, order, pos, protocol.Vec3{}))
	}

	assert.Equal(t, []uint16{3, 5, 6}, h.validator.orders)
	assert.Len(t, bConn.frames, 3)
	assert.Equal(t, uint64(4), h.svc.Stats().Stale)
}

func TestPlayerUpdate_CompletesHandshake(t *testing.T) {
	h := newHarness(t, nil)
	s, conn := h.connect(t)
	require.NoError(t, h.svc.Enter(h.event(s, enterRequest("alpha", protocol.TankPlayer).Frame())))

	require.NoError(t, h.update(s, 1, protocol.Vec3{}, protocol.Vec3{}))
	assert.Equal(t, session.Entered, s.Handshake)
	_, ok := conn.last(protocol.MsgFlagUpdate)
	assert.True(t, ok)
}

func TestPlayerUpdate_BeforeEnter(t *testing.T) {
	h := newHarness(t, nil)
	s, _ := h.connect(t)
	assert.ErrorIs(t, h.update(s, 1, protocol.Vec3{}, protocol.Vec3{}), ErrProtocol)
}

func TestPlayerUpdate_SpoofedID(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	b, _ := h.join(t, "bravo", protocol.TankPlayer)

	err := h.svc.PlayerUpdate(h.event(a, protocol.PlayerUpdate{SessionID: uint8(b.ID), Order: 1}.Frame()))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.False(t, b.HasState())
}

func TestPlayerUpdate_ObserverNotValidatedOrRelayed(t *testing.T) {
	h := newHarness(t, nil)
	obs, _ := h.join(t, "watcher", protocol.ObserverType)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	clearFrames(bConn)
	h.events.got = nil

	// Far outside the world: a tank would be kicked.
	require.NoError(t, h.update(obs, 1, protocol.Vec3{5000, 0, 300}, protocol.Vec3{900, 0, 0}))

	assert.Empty(t, h.validator.orders)
	assert.Empty(t, bConn.frames)
	assert.Equal(t, float32(5000), obs.LastState().Position[0])
	_, ok := h.table.Get(obs.ID)
	assert.True(t, ok)

	// The sample still reaches the bus, marked as an observer.
	require.Equal(t, []events.Kind{events.UpdateRelayed}, h.events.kinds())
	d := h.events.got[0].(events.UpdateRelayedData)
	assert.True(t, d.Observer)
	assert.Equal(t, uint8(obs.ID), d.SessionID)
	assert.Equal(t, uint16(1), d.Order)
	assert.Equal(t, protocol.Vec3{5000, 0, 300}, d.Position)
}

func TestPlayerUpdate_KickDropsFlagAndNotifies(t *testing.T) {
	h := newHarness(t, nil)
	a, aConn := h.join(t, "alpha", protocol.TankPlayer)
	b, bConn := h.join(t, "bravo", protocol.TankPlayer)

	idx := h.groundFlag(t, "V")
	require.NoError(t, h.update(a, 1, flagSpot, protocol.Vec3{}))
	require.Equal(t, idx, a.HeldFlag)
	clearFrames(aConn, bConn)
	h.events.got = nil

	require.NoError(t, h.update(a, 2, flagSpot, protocol.Vec3{200, 0, 0}))

	f, ok := aConn.last(protocol.MsgMessage)
	require.True(t, ok)
	msg, err := protocol.UnpackMessage(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Autokick: too fast", msg.Text)
	assert.True(t, aConn.closed)

	f, ok = bConn.last(protocol.MsgRemovePlayer)
	require.True(t, ok)
	rp, err := protocol.UnpackRemovePlayer(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(a.ID), rp.SessionID)
	_, ok = bConn.last(protocol.MsgDropFlag)
	assert.True(t, ok)

	_, ok = h.table.Get(a.ID)
	assert.False(t, ok)
	_, ok = h.table.Get(b.ID)
	assert.True(t, ok)
	d, _ := h.flags.Get(idx)
	assert.Equal(t, flag.NoOwner, d.Owner)

	assert.Equal(t, []events.Kind{events.Kicked, events.FlagDropped, events.PlayerPart}, h.events.kinds())
	assert.Equal(t, uint64(1), h.svc.Stats().Kicked)
}

func TestPlayerUpdate_LogOnlyStillRelays(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	require.NoError(t, h.update(a, 1, protocol.Vec3{0, 0, 0}, protocol.Vec3{}))
	clearFrames(bConn)
	h.events.got = nil

	// Jumping while too fast is tolerated.
	require.NoError(t, h.update(a, 2, protocol.Vec3{0, 0, 5}, protocol.Vec3{60, 0, 3}))

	assert.Len(t, bConn.frames, 1)
	assert.Equal(t, []events.Kind{events.Anomaly, events.UpdateRelayed}, h.events.kinds())
	anomaly := h.events.got[0].(events.AnomalyData)
	assert.Equal(t, validate.CheckSpeed, anomaly.Check)
	assert.Equal(t, uint64(1), h.svc.Stats().Anomalies)
}

func TestPlayerUpdate_ProximityPickup(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	idx := h.groundFlag(t, "V")
	clearFrames(bConn)

	require.NoError(t, h.update(a, 1, protocol.Vec3{50, 50, 0}, protocol.Vec3{}))
	assert.Equal(t, session.NoFlag, a.HeldFlag)

	require.NoError(t, h.update(a, 2, protocol.Vec3{14, 20, 0}, protocol.Vec3{}))
	assert.Equal(t, idx, a.HeldFlag)

	f, ok := bConn.last(protocol.MsgGrabFlag)
	require.True(t, ok)
	ev, err := protocol.UnpackFlagEvent(protocol.MsgGrabFlag, f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(a.ID), ev.SessionID)
	assert.Equal(t, uint8(a.ID), ev.Flag.Owner)
	assert.Contains(t, h.events.kinds(), events.FlagGrabbed)
}

func TestGrabFlag_Explicit(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	b, _ := h.join(t, "bravo", protocol.TankPlayer)
	idx := h.groundFlag(t, "V")
	require.NoError(t, h.update(a, 1, protocol.Vec3{100, 100, 0}, protocol.Vec3{}))
	require.NoError(t, h.update(b, 1, protocol.Vec3{-100, 100, 0}, protocol.Vec3{}))

	require.NoError(t, h.svc.GrabFlag(h.event(a, protocol.GrabFlagRequest{Index: uint16(idx)}.Frame())))
	assert.Equal(t, idx, a.HeldFlag)

	// Second grabber loses quietly.
	require.NoError(t, h.svc.GrabFlag(h.event(b, protocol.GrabFlagRequest{Index: uint16(idx)}.Frame())))
	assert.Equal(t, session.NoFlag, b.HeldFlag)

	err := h.svc.GrabFlag(h.event(b, protocol.GrabFlagRequest{Index: 99}.Frame()))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDropFlag_ArmsTransitGrace(t *testing.T) {
	h := newHarness(t, nil)
	a, aConn := h.join(t, "alpha", protocol.TankPlayer)
	idx := h.groundFlag(t, "V")
	require.NoError(t, h.update(a, 1, flagSpot, protocol.Vec3{}))
	require.Equal(t, idx, a.HeldFlag)
	clearFrames(aConn)

	require.NoError(t, h.svc.DropFlag(h.event(a, protocol.DropFlagRequest{Position: protocol.Vec3{30, 30, 0}}.Frame())))

	assert.Equal(t, session.NoFlag, a.HeldFlag)
	assert.Equal(t, h.now.Add(5*time.Second), a.TransitGraceUntil)
	_, ok := aConn.last(protocol.MsgDropFlag)
	assert.True(t, ok)

	kinds := h.events.kinds()
	assert.Equal(t, events.FlagDropped, kinds[len(kinds)-1])

	// Nothing held: ignored.
	require.NoError(t, h.svc.DropFlag(h.event(a, protocol.DropFlagRequest{}.Frame())))
}

func TestExit_RemovesAndFreesID(t *testing.T) {
	h := newHarness(t, nil)
	a, aConn := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)
	clearFrames(bConn)

	require.NoError(t, h.svc.Exit(h.event(a, protocol.Frame{Code: protocol.MsgExit})))
	assert.True(t, aConn.closed)
	_, ok := bConn.last(protocol.MsgRemovePlayer)
	assert.True(t, ok)

	part := h.events.got[len(h.events.got)-1].(events.PlayerPartData)
	assert.Equal(t, ReasonLeft, part.Reason)

	c, _ := h.connect(t)
	assert.Equal(t, a.ID, c.ID)
}

func TestExit_DropsFlagOwnedInRegistry(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	_, bConn := h.join(t, "bravo", protocol.TankPlayer)

	idx := h.groundFlag(t, "V")
	require.NoError(t, h.flags.Grab(idx, int(a.ID)))
	require.Equal(t, session.NoFlag, a.HeldFlag)
	clearFrames(bConn)

	require.NoError(t, h.svc.Exit(h.event(a, protocol.Frame{Code: protocol.MsgExit})))

	_, held := h.flags.HeldBy(int(a.ID))
	assert.False(t, held)
	_, ok := bConn.last(protocol.MsgDropFlag)
	assert.True(t, ok)
}

func TestBroadcast_FailedPeerRemoved(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.join(t, "alpha", protocol.TankPlayer)
	b, bConn := h.join(t, "bravo", protocol.TankPlayer)
	bConn.fail = true

	require.NoError(t, h.update(a, 1, protocol.Vec3{}, protocol.Vec3{}))

	_, ok := h.table.Get(b.ID)
	assert.False(t, ok)
	var part events.PlayerPartData
	for _, d := range h.events.got {
		if p, ok := d.(events.PlayerPartData); ok {
			part = p
		}
	}
	assert.Equal(t, uint8(b.ID), part.SessionID)
	assert.Equal(t, ReasonConnection, part.Reason)
}

func TestTick_BroadcastsLandedFlags(t *testing.T) {
	h := newHarness(t, nil)
	_, conn := h.join(t, "alpha", protocol.TankPlayer)
	idx, err := h.flags.Spawn("V")
	require.NoError(t, err)
	clearFrames(conn)

	h.svc.Tick(h.now)
	assert.Empty(t, conn.frames)

	h.svc.Tick(h.now.Add(time.Minute))
	f, ok := conn.last(protocol.MsgFlagUpdate)
	require.True(t, ok)
	update, err := protocol.UnpackFlagUpdate(f.Payload)
	require.NoError(t, err)
	require.Len(t, update.Flags, 1)
	assert.Equal(t, uint16(idx), update.Flags[0].Index)
	assert.Equal(t, uint16(flag.OnGround), update.Flags[0].Status)
}

func TestMessage_Routing(t *testing.T) {
	h := newHarness(t, nil)
	a, aConn := h.join(t, "alpha", protocol.TankPlayer)
	b, bConn := h.join(t, "bravo", protocol.TankPlayer)
	_, cConn := h.join(t, "charlie", protocol.TankPlayer)
	clearFrames(aConn, bConn, cConn)

	require.NoError(t, h.svc.Message(h.event(a, protocol.Message{From: 99, To: uint8(b.ID), Text: "psst"}.Frame())))
	assert.Len(t, aConn.frames, 1)
	assert.Len(t, bConn.frames, 1)
	assert.Empty(t, cConn.frames)

	m, err := protocol.UnpackMessage(bConn.frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(a.ID), m.From, "sender id is not spoofable")

	clearFrames(aConn, bConn, cConn)
	require.NoError(t, h.svc.Message(h.event(a, protocol.Message{To: protocol.AllPlayers, Text: "hi all"}.Frame())))
	assert.Len(t, aConn.frames, 1)
	assert.Len(t, bConn.frames, 1)
	assert.Len(t, cConn.frames, 1)

	assert.Equal(t, events.MessageBroadcast, h.events.got[len(h.events.got)-1].Kind())
}

func TestRemoveAll(t *testing.T) {
	h := newHarness(t, nil)
	_, aConn := h.join(t, "alpha", protocol.TankPlayer)
	_, pendingConn := h.connect(t)

	h.svc.RemoveAll(ReasonShutdown)
	assert.Equal(t, 0, h.table.Len())
	assert.True(t, aConn.closed)
	assert.True(t, pendingConn.closed)
}

func TestRegister(t *testing.T) {
	h := newHarness(t, nil)
	d, err := dispatcher.New(discard{})
	require.NoError(t, err)
	h.svc.Register(d)

	for _, code := range []uint16{
		protocol.MsgEnter, protocol.MsgNegotiateFlags, protocol.MsgPlayerUpdate,
		protocol.MsgGrabFlag, protocol.MsgDropFlag, protocol.MsgMessage, protocol.MsgExit,
	} {
		assert.True(t, d.HasHandler(code), protocol.CodeString(code))
	}
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Error(string, ...any) {}
