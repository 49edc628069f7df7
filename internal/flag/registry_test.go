package flag

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = PlacerFunc(func(*Type) protocol.Vec3 { return protocol.Vec3{10, 20, 0} })

func newTestRegistry(t *testing.T, cfg Config, size int, now *time.Time) *Registry {
	t.Helper()
	return NewRegistry(cfg, DefaultCatalog(), size, origin,
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return *now }),
	)
}

func spawnOnGround(t *testing.T, r *Registry, abbrev string, now *time.Time) int {
	t.Helper()
	idx, err := r.Spawn(abbrev)
	require.NoError(t, err)
	*now = now.Add(10 * time.Second)
	r.Tick(*now)
	f, _ := r.Get(idx)
	require.Equal(t, OnGround, f.Status)
	return idx
}

func TestSpawn_Ballistics(t *testing.T) {
	now := time.Unix(1000, 0)
	cfg := DefaultConfig()
	r := newTestRegistry(t, cfg, 4, &now)

	idx, err := r.Spawn("V")
	require.NoError(t, err)

	f, ok := r.Get(idx)
	require.True(t, ok)
	flight := FlightTime(cfg.Altitude, cfg.Gravity)

	assert.Equal(t, Coming, f.Status)
	assert.Equal(t, NoOwner, f.Owner)
	assert.Equal(t, 0.0, f.FlightStart)
	assert.Equal(t, flight, f.FlightEnd)
	assert.Equal(t, -0.5*cfg.Gravity*flight, f.InitialVelocity)
	assert.Equal(t, protocol.Vec3{10, 20, 0}, f.LandingPosition)
	assert.Equal(t, protocol.Vec3{10, 20, 11}, f.LaunchPosition)
}

func TestFlightTime(t *testing.T) {
	// 2*sqrt(-2*5/-10) = 2
	assert.Equal(t, 2.0, FlightTime(5, -10))
	assert.Equal(t, 10.0, InitialVelocity(-10, 2))
}

func TestSpawn_EnduranceAndGrabs(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig()
	cfg.MaxGrabs = 4
	r := newTestRegistry(t, cfg, 64, &now)

	bad, err := r.Spawn("CB")
	require.NoError(t, err)
	f, _ := r.Get(bad)
	assert.Equal(t, Sticky, f.Endurance)
	assert.Equal(t, 1, f.GrabsRemaining)

	thief, err := r.Spawn(Thief)
	require.NoError(t, err)
	f, _ = r.Get(thief)
	assert.Equal(t, Unstable, f.Endurance)
	assert.Equal(t, 1, f.GrabsRemaining)

	for i := 0; i < 40; i++ {
		idx, err := r.Spawn("V")
		require.NoError(t, err)
		f, _ := r.Get(idx)
		assert.Equal(t, Unstable, f.Endurance)
		assert.GreaterOrEqual(t, f.GrabsRemaining, 1)
		assert.LessOrEqual(t, f.GrabsRemaining, 4)
	}
}

func TestSpawn_Errors(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 1, &now)

	_, err := r.Spawn("nope")
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = r.Spawn("V")
	require.NoError(t, err)
	_, err = r.Spawn("V")
	assert.ErrorIs(t, err, ErrPoolFull)
}

func TestTick_LandsComingFlag(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 2, &now)

	idx, err := r.Spawn("V")
	require.NoError(t, err)

	assert.Empty(t, r.Tick(now))
	f, _ := r.Get(idx)
	assert.Equal(t, Coming, f.Status)

	changed := r.Tick(now.Add(time.Minute))
	assert.Equal(t, []int{idx}, changed)
	f, _ = r.Get(idx)
	assert.Equal(t, OnGround, f.Status)
}

func TestGrab(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 2, &now)

	assert.ErrorIs(t, r.Grab(5, 1), ErrBadIndex)
	assert.ErrorIs(t, r.Grab(-1, 1), ErrBadIndex)

	idx, err := r.Spawn("V")
	require.NoError(t, err)
	assert.ErrorIs(t, r.Grab(idx, 1), ErrNotAvailable, "still in flight")

	now = now.Add(time.Minute)
	r.Tick(now)

	require.NoError(t, r.Grab(idx, 1))
	f, _ := r.Get(idx)
	assert.Equal(t, OnTank, f.Status)
	assert.Equal(t, 1, f.Owner)

	assert.ErrorIs(t, r.Grab(idx, 2), ErrAlreadyHeld)

	held, ok := r.HeldBy(1)
	assert.True(t, ok)
	assert.Equal(t, idx, held)
	_, ok = r.HeldBy(2)
	assert.False(t, ok)
}

func TestDrop_RetiresSingleUse(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 2, &now)
	idx := spawnOnGround(t, r, Thief, &now)

	require.NoError(t, r.Grab(idx, 3))
	res, err := r.Drop(idx, protocol.Vec3{1, 1, 0})
	require.NoError(t, err)
	assert.True(t, res.Retired)

	f, _ := r.Get(idx)
	assert.Equal(t, NoExist, f.Status)
	assert.Equal(t, NoOwner, f.Owner)
}

func TestDrop_LeavesOnGroundWithTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := DefaultConfig()
	cfg.MaxGrabs = 1000
	cfg.GroundTimeout = 30 * time.Second
	r := newTestRegistry(t, cfg, 1, &now)

	var idx int
	for {
		idx = spawnOnGround(t, r, "V", &now)
		f, _ := r.Get(idx)
		if f.GrabsRemaining > 1 {
			break
		}
		r.reset(idx)
	}
	before, _ := r.Get(idx)

	require.NoError(t, r.Grab(idx, 7))
	res, err := r.Drop(idx, protocol.Vec3{5, 6, 0})
	require.NoError(t, err)
	assert.False(t, res.Retired)

	f, _ := r.Get(idx)
	assert.Equal(t, OnGround, f.Status)
	assert.Equal(t, NoOwner, f.Owner)
	assert.Equal(t, before.GrabsRemaining-1, f.GrabsRemaining)
	assert.Equal(t, protocol.Vec3{5, 6, 0}, f.Position)

	assert.Empty(t, r.Tick(now.Add(29*time.Second)))
	assert.Equal(t, []int{idx}, r.Tick(now.Add(30*time.Second)))
	f, _ = r.Get(idx)
	assert.Equal(t, NoExist, f.Status)
}

func TestDrop_NotHeld(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 1, &now)

	_, err := r.Drop(0, protocol.Vec3{})
	assert.ErrorIs(t, err, ErrNotHeld)
	_, err = r.Drop(9, protocol.Vec3{})
	assert.ErrorIs(t, err, ErrBadIndex)
}

func TestTick_RespawnsRequired(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 3, &now)

	require.NoError(t, r.Require(0, "SW"))
	require.NoError(t, r.AllowExtra(1))
	assert.ErrorIs(t, r.Require(0, "??"), ErrUnknownType)
	assert.ErrorIs(t, r.Require(8, "SW"), ErrBadIndex)

	changed := r.Tick(now)
	assert.Equal(t, []int{0, 1}, changed)

	f, _ := r.Get(0)
	assert.Equal(t, "SW", f.Abbrev())
	assert.Equal(t, Coming, f.Status)

	f, _ = r.Get(1)
	assert.Equal(t, Good, f.Type.Quality)

	f, _ = r.Get(2)
	assert.Equal(t, NoExist, f.Status)

	// Pinned slots are not handed out by Spawn.
	idx, err := r.Spawn("V")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestNearest(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 2, &now)
	idx := spawnOnGround(t, r, "V", &now)

	got, ok := r.Nearest(protocol.Vec3{12, 20, 0}, 2.5)
	assert.True(t, ok)
	assert.Equal(t, idx, got)

	_, ok = r.Nearest(protocol.Vec3{30, 20, 0}, 2.5)
	assert.False(t, ok)

	require.NoError(t, r.Grab(idx, 1))
	_, ok = r.Nearest(protocol.Vec3{10, 20, 0}, 2.5)
	assert.False(t, ok, "held flags are not candidates")
}

func TestDescriptor_State(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 1, &now)
	idx := spawnOnGround(t, r, "V", &now)

	st := r.flags[idx].State()
	assert.Equal(t, "V", st.Type)
	assert.Equal(t, protocol.NoPlayer, st.Owner)
	assert.Equal(t, uint16(OnGround), st.Status)

	require.NoError(t, r.Grab(idx, 4))
	st = r.flags[idx].State()
	assert.Equal(t, uint8(4), st.Owner)
}

func TestCountByStatus(t *testing.T) {
	now := time.Unix(0, 0)
	r := newTestRegistry(t, DefaultConfig(), 3, &now)
	_, err := r.Spawn("V")
	require.NoError(t, err)

	counts := r.CountByStatus()
	assert.Equal(t, 1, counts[Coming])
	assert.Equal(t, 2, counts[NoExist])
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	v, ok := c.Lookup("V")
	require.True(t, ok)
	assert.Equal(t, "High Speed", v.Name)

	all := c.All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Abbrev, all[i].Abbrev)
	}
	for _, g := range c.Good() {
		assert.Equal(t, Good, g.Quality)
	}
}
