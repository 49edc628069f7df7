// Package flag owns the fixed-size pool of flags and their timed drop physics.
package flag

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
)

// Status is the lifecycle state of a flag.
type Status uint16

// Values match the wire encoding.
const (
	NoExist Status = iota
	OnGround
	OnTank
	InAir
	Coming
	Going
)

func (s Status) String() string {
	switch s {
	case NoExist:
		return "NoExist"
	case OnGround:
		return "OnGround"
	case OnTank:
		return "OnTank"
	case InAir:
		return "InAir"
	case Coming:
		return "Coming"
	case Going:
		return "Going"
	default:
		return fmt.Sprintf("Status(%d)", uint16(s))
	}
}

// Endurance is how resistant a held flag is to being dropped.
type Endurance uint16

const (
	Normal Endurance = iota
	Unstable
	Sticky
)

// NoOwner marks a flag nobody holds.
const NoOwner = -1

var (
	// ErrBadIndex is returned for an index outside the pool.
	ErrBadIndex = errors.New("flag index out of range")
	// ErrAlreadyHeld is returned when grabbing a flag someone owns.
	ErrAlreadyHeld = errors.New("flag already held")
	// ErrNotAvailable is returned when grabbing a flag that is not on the ground.
	ErrNotAvailable = errors.New("flag not available")
	// ErrNotHeld is returned when dropping a flag nobody holds.
	ErrNotHeld = errors.New("flag not held")
	// ErrPoolFull is returned when no slot is free for a new flag.
	ErrPoolFull = errors.New("flag pool full")
	// ErrUnknownType is returned for an abbreviation missing from the catalog.
	ErrUnknownType = errors.New("unknown flag type")
)

// Descriptor is one pickup-able flag.
type Descriptor struct {
	Index          int
	Type           *Type
	Status         Status
	Endurance      Endurance
	Owner          int
	GrabsRemaining int

	Position        protocol.Vec3
	LaunchPosition  protocol.Vec3
	LandingPosition protocol.Vec3

	FlightStart     float64
	FlightEnd       float64
	InitialVelocity float64

	// landing is when a Coming flag touches down; expires is when an
	// OnGround flag left by a drop disappears (zero means never).
	landing time.Time
	expires time.Time
}

// Abbrev returns the type abbreviation, or "" for an empty slot.
func (d Descriptor) Abbrev() string {
	if d.Type == nil {
		return ""
	}
	return d.Type.Abbrev
}

// State returns the wire form of the flag.
func (d Descriptor) State() protocol.FlagState {
	owner := protocol.NoPlayer
	if d.Owner != NoOwner {
		owner = uint8(d.Owner)
	}
	return protocol.FlagState{
		Index:           uint16(d.Index),
		Type:            d.Abbrev(),
		Status:          uint16(d.Status),
		Endurance:       uint16(d.Endurance),
		Owner:           owner,
		Position:        d.Position,
		LaunchPosition:  d.LaunchPosition,
		LandingPosition: d.LandingPosition,
		FlightTime:      float32(d.FlightStart),
		FlightEnd:       float32(d.FlightEnd),
		InitialVelocity: float32(d.InitialVelocity),
	}
}

// Placer chooses where a new flag lands. Level geometry lives behind it.
type Placer interface {
	Place(t *Type) protocol.Vec3
}

// PlacerFunc adapts a function to Placer.
type PlacerFunc func(t *Type) protocol.Vec3

// Place calls f.
func (f PlacerFunc) Place(t *Type) protocol.Vec3 { return f(t) }

// Config holds the world constants the registry needs.
type Config struct {
	Altitude      float64
	Gravity       float64
	MaxGrabs      int
	GroundTimeout time.Duration
	SingleUse     []string
}

// DefaultConfig returns the stock world constants.
func DefaultConfig() Config {
	return Config{
		Altitude:  11,
		Gravity:   -9.81,
		MaxGrabs:  4,
		SingleUse: []string{Thief},
	}
}

// FlightTime returns the ballistic drop time from altitude under gravity.
func FlightTime(altitude, gravity float64) float64 {
	return 2 * math.Sqrt(-2*altitude/gravity)
}

// InitialVelocity returns the launch speed that makes a flag reach its
// apex halfway through flightTime.
func InitialVelocity(gravity, flightTime float64) float64 {
	return -0.5 * gravity * flightTime
}

type slot struct {
	required *Type
	extra    bool
}

// Registry owns the flag pool. It is not safe for concurrent use; the tick
// thread is its only caller.
type Registry struct {
	cfg       Config
	catalog   *Catalog
	placer    Placer
	rng       *rand.Rand
	clock     func() time.Time
	singleUse map[string]bool

	flags []Descriptor
	slots []slot
}

// Option configures a Registry.
type Option func(*Registry)

// WithRand sets the random source used for grab counts and extra flag types.
func WithRand(r *rand.Rand) Option {
	return func(reg *Registry) { reg.rng = r }
}

// WithClock sets the time source used by Spawn.
func WithClock(clock func() time.Time) Option {
	return func(reg *Registry) { reg.clock = clock }
}

// NewRegistry creates a pool of size empty flags.
func NewRegistry(cfg Config, catalog *Catalog, size int, placer Placer, opts ...Option) *Registry {
	r := &Registry{
		cfg:       cfg,
		catalog:   catalog,
		placer:    placer,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		clock:     time.Now,
		singleUse: make(map[string]bool, len(cfg.SingleUse)),
		flags:     make([]Descriptor, size),
		slots:     make([]slot, size),
	}
	for _, a := range cfg.SingleUse {
		r.singleUse[a] = true
	}
	for i := range r.flags {
		r.flags[i] = Descriptor{Index: i, Owner: NoOwner}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the pool size.
func (r *Registry) Len() int {
	return len(r.flags)
}

// Catalog returns the type catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Get returns a copy of the flag at index.
func (r *Registry) Get(index int) (Descriptor, bool) {
	if index < 0 || index >= len(r.flags) {
		return Descriptor{}, false
	}
	return r.flags[index], true
}

// Snapshot returns a copy of every flag.
func (r *Registry) Snapshot() []Descriptor {
	out := make([]Descriptor, len(r.flags))
	copy(out, r.flags)
	return out
}

// CountByStatus returns how many flags are in each status.
func (r *Registry) CountByStatus() map[Status]int {
	out := make(map[Status]int)
	for _, f := range r.flags {
		out[f.Status]++
	}
	return out
}

// Require pins a slot to a type that is respawned whenever it retires.
func (r *Registry) Require(index int, abbrev string) error {
	if index < 0 || index >= len(r.slots) {
		return ErrBadIndex
	}
	t, ok := r.catalog.Lookup(abbrev)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, abbrev)
	}
	r.slots[index] = slot{required: t}
	return nil
}

// AllowExtra marks a slot as holding a random good flag whenever it respawns.
func (r *Registry) AllowExtra(index int) error {
	if index < 0 || index >= len(r.slots) {
		return ErrBadIndex
	}
	r.slots[index] = slot{extra: true}
	return nil
}

// Spawn places a flag of the given type into the first free unpinned slot.
func (r *Registry) Spawn(abbrev string) (int, error) {
	t, ok := r.catalog.Lookup(abbrev)
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownType, abbrev)
	}
	for i := range r.flags {
		if r.flags[i].Status == NoExist && r.slots[i].required == nil && !r.slots[i].extra {
			r.spawnAt(i, t, r.clock())
			return i, nil
		}
	}
	return -1, ErrPoolFull
}

func (r *Registry) spawnAt(index int, t *Type, now time.Time) {
	f := &r.flags[index]
	landing := r.placer.Place(t)

	flight := FlightTime(r.cfg.Altitude, r.cfg.Gravity)

	*f = Descriptor{
		Index:           index,
		Type:            t,
		Status:          Coming,
		Owner:           NoOwner,
		Position:        landing,
		LandingPosition: landing,
		LaunchPosition:  protocol.Vec3{landing[0], landing[1], landing[2] + float32(r.cfg.Altitude)},
		FlightStart:     0,
		FlightEnd:       flight,
		InitialVelocity: InitialVelocity(r.cfg.Gravity, flight),
		landing:         now.Add(time.Duration(flight * float64(time.Second))),
	}

	if t.Quality == Bad {
		f.Endurance = Sticky
	} else {
		f.Endurance = Unstable
	}

	if f.Endurance == Sticky || r.singleUse[t.Abbrev] {
		f.GrabsRemaining = 1
	} else {
		f.GrabsRemaining = r.rng.IntN(max(r.cfg.MaxGrabs, 1)) + 1
	}
}

// Grab gives the flag at index to sessionID.
func (r *Registry) Grab(index, sessionID int) error {
	if index < 0 || index >= len(r.flags) {
		return ErrBadIndex
	}
	f := &r.flags[index]
	if f.Owner != NoOwner {
		return ErrAlreadyHeld
	}
	if f.Status != OnGround {
		return fmt.Errorf("%w: flag %d is %s", ErrNotAvailable, index, f.Status)
	}
	f.Status = OnTank
	f.Owner = sessionID
	f.expires = time.Time{}
	return nil
}

// DropResult reports what happened to a dropped flag.
type DropResult struct {
	Retired bool
}

// Drop takes the flag at index from its owner and leaves it at pos. The flag
// retires once its grabs are used up.
func (r *Registry) Drop(index int, pos protocol.Vec3) (DropResult, error) {
	if index < 0 || index >= len(r.flags) {
		return DropResult{}, ErrBadIndex
	}
	f := &r.flags[index]
	if f.Owner == NoOwner {
		return DropResult{}, ErrNotHeld
	}

	f.GrabsRemaining--
	if f.GrabsRemaining <= 0 {
		r.reset(index)
		return DropResult{Retired: true}, nil
	}

	f.Owner = NoOwner
	f.Status = OnGround
	f.Position = pos
	f.LandingPosition = pos
	if r.cfg.GroundTimeout > 0 {
		f.expires = r.clock().Add(r.cfg.GroundTimeout)
	}
	return DropResult{}, nil
}

func (r *Registry) reset(index int) {
	r.flags[index] = Descriptor{Index: index, Owner: NoOwner}
}

// Tick advances flight and ground timers and respawns pinned slots. It
// returns the indices whose state changed.
func (r *Registry) Tick(now time.Time) []int {
	var changed []int
	for i := range r.flags {
		f := &r.flags[i]
		switch f.Status {
		case Coming:
			if !now.Before(f.landing) {
				f.Status = OnGround
				changed = append(changed, i)
			}
		case OnGround:
			if !f.expires.IsZero() && !now.Before(f.expires) {
				r.reset(i)
				changed = append(changed, i)
			}
		case NoExist:
			if t := r.respawnType(i); t != nil {
				r.spawnAt(i, t, now)
				changed = append(changed, i)
			}
		}
	}
	return changed
}

func (r *Registry) respawnType(index int) *Type {
	s := r.slots[index]
	if s.required != nil {
		return s.required
	}
	if s.extra {
		good := r.catalog.Good()
		if len(good) == 0 {
			return nil
		}
		return good[r.rng.IntN(len(good))]
	}
	return nil
}

// Nearest returns the closest OnGround flag within radius of pos on the
// ground plane.
func (r *Registry) Nearest(pos protocol.Vec3, radius float64) (int, bool) {
	best, bestDist := -1, radius*radius
	for i, f := range r.flags {
		if f.Status != OnGround {
			continue
		}
		dx := float64(f.Position[0] - pos[0])
		dy := float64(f.Position[1] - pos[1])
		if d := dx*dx + dy*dy; d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// HeldBy returns the index of the flag sessionID is carrying.
func (r *Registry) HeldBy(sessionID int) (int, bool) {
	for i, f := range r.flags {
		if f.Owner == sessionID {
			return i, true
		}
	}
	return -1, false
}
