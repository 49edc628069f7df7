// Package validate checks client movement reports against world rules.
package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Verdict is what the caller must do with a report.
type Verdict int

const (
	Accept Verdict = iota
	LogOnly
	Kick
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case LogOnly:
		return "log_only"
	case Kick:
		return "kick"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Check names reported in an Outcome.
const (
	CheckHeight = "height"
	CheckBounds = "bounds"
	CheckSpeed  = "speed"
)

// Kick reasons.
const (
	ReasonTooHigh     = "too high"
	ReasonOutOfBounds = "out of bounds"
	ReasonTooFast     = "too fast"
)

// Outcome is the result of validating one report.
type Outcome struct {
	Verdict  Verdict
	Check    string
	Reason   string
	Measured float64
	Limit    float64
}

func (o Outcome) String() string {
	if o.Verdict == Accept {
		return "accept"
	}
	return fmt.Sprintf("%s %s: %s (%.3f > %.3f)", o.Verdict, o.Check, o.Reason, o.Measured, o.Limit)
}

// DefaultTolerance applies when the configured tolerance is not above 1.
const DefaultTolerance = 1.1

// Config holds the world constants and cheat switches used by the checks.
type Config struct {
	WorldSize      float64
	MaxWorldHeight float64
	BurrowDepth    float64

	Gravity           float64
	JumpVelocity      float64
	WingsGravity      float64
	WingsJumpVelocity float64
	WingsJumpCount    int

	TankSpeed     float64
	LinearInertia float64

	HeightChecks    bool
	SpeedChecks     bool
	SpeedTolerance  float64
	VerticalEpsilon float64

	// Modifiers scales TankSpeed by held flag abbreviation. The burrow
	// modifier only applies while the tank is actually underground.
	Modifiers map[string]float64
}

// DefaultConfig returns the stock world.
func DefaultConfig() Config {
	return Config{
		WorldSize:         800,
		MaxWorldHeight:    0,
		BurrowDepth:       -1.32,
		Gravity:           -9.81,
		JumpVelocity:      19,
		WingsGravity:      -9.81,
		WingsJumpVelocity: 19,
		WingsJumpCount:    1,
		TankSpeed:         25,
		HeightChecks:      true,
		SpeedChecks:       true,
		SpeedTolerance:    DefaultTolerance,
		VerticalEpsilon:   1e-3,
		Modifiers: map[string]float64{
			flag.Velocity: 1.5,
			flag.Thief:    1.67,
			flag.Agility:  2.25,
			flag.Burrow:   0.8,
		},
	}
}

// FlagSource resolves a held flag index.
type FlagSource interface {
	Get(index int) (flag.Descriptor, bool)
}

// World reports whether the world is being swapped out, which makes
// geometry checks meaningless.
type World interface {
	Changing() bool
}

// Validator applies the height, bounds and speed rules in that order.
type Validator struct {
	cfg      Config
	flags    FlagSource
	world    World
	outcomes metric.Int64Counter
}

// New creates a Validator. flags and world may be nil.
func New(cfg Config, flags FlagSource, world World) (*Validator, error) {
	outcomes, err := meter().Int64Counter(
		"validate.outcomes",
		metric.WithDescription("Validation outcomes by verdict and check"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating outcomes counter: %w", err)
	}
	return &Validator{cfg: cfg, flags: flags, world: world, outcomes: outcomes}, nil
}

// Config returns the configuration in use.
func (v *Validator) Config() Config {
	return v.cfg
}

// MaxHeight is the highest z a tank can legitimately reach.
func (v *Validator) MaxHeight() float64 {
	c := v.cfg
	wings := c.WingsJumpVelocity * c.WingsJumpVelocity * float64(1+c.WingsJumpCount) / (2 * math.Abs(c.WingsGravity))
	normal := c.JumpVelocity * c.JumpVelocity / (2 * math.Abs(c.Gravity))
	return math.Max(wings, normal)*1.10 + c.MaxWorldHeight
}

// Validate checks report against the session's last accepted state. The
// caller has already discarded stale reports.
func (v *Validator) Validate(s *session.Session, report session.State, now time.Time) Outcome {
	o := v.validate(s, report, now)
	v.outcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", o.Verdict.String()),
		attribute.String("check", o.Check),
	))
	return o
}

func (v *Validator) validate(s *session.Session, report session.State, now time.Time) Outcome {
	changing := v.world != nil && v.world.Changing()

	if o, failed := v.checkFinite(report); failed {
		return o
	}
	if o, failed := v.checkHeight(report, changing); failed {
		return o
	}
	if o, failed := v.checkBounds(report); failed {
		return o
	}
	if o, failed := v.checkSpeed(s, report, now); failed {
		return o
	}
	return Outcome{Verdict: Accept}
}

func (v *Validator) checkHeight(report session.State, changing bool) (Outcome, bool) {
	c := v.cfg
	if !c.HeightChecks || changing || c.Gravity >= 0 || c.WingsGravity >= 0 {
		return Outcome{}, false
	}
	z := float64(report.Position[2])
	limit := v.MaxHeight()
	if z > limit {
		return Outcome{Verdict: Kick, Check: CheckHeight, Reason: ReasonTooHigh, Measured: z, Limit: limit}, true
	}
	return Outcome{}, false
}

// checkFinite rejects NaN and infinite components, which compare false
// against every limit below. Measured stays zero so the outcome can be
// serialised.
func (v *Validator) checkFinite(report session.State) (Outcome, bool) {
	for _, vec := range [...]protocol.Vec3{report.Position, report.Velocity} {
		for _, c := range vec {
			f := float64(c)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Outcome{Verdict: Kick, Check: CheckBounds, Reason: ReasonOutOfBounds, Limit: v.cfg.WorldSize/2 + 10}, true
			}
		}
	}
	return Outcome{}, false
}

func (v *Validator) checkBounds(report session.State) (Outcome, bool) {
	edge := v.cfg.WorldSize/2 + 10
	x := math.Abs(float64(report.Position[0]))
	y := math.Abs(float64(report.Position[1]))
	z := float64(report.Position[2])

	switch {
	case x > edge:
		return Outcome{Verdict: Kick, Check: CheckBounds, Reason: ReasonOutOfBounds, Measured: x, Limit: edge}, true
	case y > edge:
		return Outcome{Verdict: Kick, Check: CheckBounds, Reason: ReasonOutOfBounds, Measured: y, Limit: edge}, true
	case z < v.cfg.BurrowDepth-1:
		return Outcome{Verdict: Kick, Check: CheckBounds, Reason: ReasonOutOfBounds, Measured: z, Limit: v.cfg.BurrowDepth - 1}, true
	}
	return Outcome{}, false
}

func (v *Validator) checkSpeed(s *session.Session, report session.State, now time.Time) (Outcome, bool) {
	c := v.cfg
	if !c.SpeedChecks || c.LinearInertia != 0 || now.Before(s.TransitGraceUntil) {
		return Outcome{}, false
	}

	vertical := v.verticalMotion(s, report)
	limit := c.TankSpeed * v.modifier(s, report, vertical) * v.tolerance()

	vx, vy := float64(report.Velocity[0]), float64(report.Velocity[1])
	speedSq := vx*vx + vy*vy
	if speedSq <= limit*limit {
		return Outcome{}, false
	}

	o := Outcome{Verdict: Kick, Check: CheckSpeed, Reason: ReasonTooFast, Measured: math.Sqrt(speedSq), Limit: limit}
	if vertical || !report.Alive() {
		o.Verdict = LogOnly
	}
	return o, true
}

func (v *Validator) tolerance() float64 {
	if v.cfg.SpeedTolerance > 1.0 {
		return v.cfg.SpeedTolerance
	}
	return DefaultTolerance
}

// verticalMotion reports whether z or vertical velocity moved since the last
// accepted report. Without history the answer is yes.
func (v *Validator) verticalMotion(s *session.Session, report session.State) bool {
	if !s.HasState() {
		return true
	}
	last := s.LastState()
	eps := v.cfg.VerticalEpsilon
	return math.Abs(float64(report.Position[2]-last.Position[2])) > eps ||
		math.Abs(float64(report.Velocity[2]-last.Velocity[2])) > eps
}

func (v *Validator) modifier(s *session.Session, report session.State, vertical bool) float64 {
	if v.flags == nil || s.HeldFlag == session.NoFlag {
		return 1
	}
	f, ok := v.flags.Get(s.HeldFlag)
	if !ok || f.Type == nil {
		return 1
	}
	m, ok := v.cfg.Modifiers[f.Type.Abbrev]
	if !ok {
		return 1
	}
	if f.Type.Abbrev == flag.Burrow {
		if vertical || float64(report.Position[2]) > v.cfg.BurrowDepth {
			return 1
		}
	}
	return m
}
