package main

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/bzforge/bzfs/internal/config"
	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/internal/negotiate"
	"github.com/bzforge/bzfs/internal/server"
	"github.com/bzforge/bzfs/internal/validate"
	"github.com/bzforge/bzfs/internal/world"
	"github.com/bzforge/bzfs/pkg/core"
)

func worldSettings(w config.WorldConfig) world.Settings {
	return world.Settings{
		Size:         w.Size,
		Gravity:      w.Gravity,
		MaxHeight:    w.MaxHeight,
		BurrowDepth:  w.BurrowDepth,
		FlagAltitude: w.FlagAltitude,
		TankSpeed:    w.TankSpeed,
		JumpVelocity: w.JumpVelocity,
		TankRadius:   w.TankRadius,
		FlagRadius:   w.FlagRadius,
	}
}

func validatorConfig(cfg config.Config) validate.Config {
	vc := validate.Config{
		WorldSize:         cfg.World.Size,
		MaxWorldHeight:    cfg.World.MaxHeight,
		BurrowDepth:       cfg.World.BurrowDepth,
		Gravity:           cfg.World.Gravity,
		JumpVelocity:      cfg.World.JumpVelocity,
		WingsGravity:      cfg.World.WingsGravity,
		WingsJumpVelocity: cfg.World.WingsJumpVelocity,
		WingsJumpCount:    cfg.World.WingsJumpCount,
		TankSpeed:         cfg.World.TankSpeed,
		LinearInertia:     cfg.World.LinearInertia,
		HeightChecks:      cfg.Cheat.HeightChecks,
		SpeedChecks:       cfg.Cheat.SpeedChecks,
		SpeedTolerance:    cfg.Cheat.SpeedTolerance,
		VerticalEpsilon:   cfg.Cheat.VerticalEpsilon,
		Modifiers:         cfg.Cheat.Modifiers,
	}
	if len(vc.Modifiers) == 0 {
		vc.Modifiers = validate.DefaultConfig().Modifiers
	}
	return vc
}

func serverConfig(s config.ServerConfig) server.Config {
	sc := server.DefaultConfig()
	sc.TickInterval = s.TickInterval
	sc.PollWait = s.PollWait
	sc.InboundBuffer = s.InboundBuffer
	sc.FrameRate = s.FrameRate
	sc.FrameBurst = s.FrameBurst
	return sc
}

// allowedCatalog drops disallowed types so they are never picked for
// extra slots.
func allowedCatalog(all *flag.Catalog, disallowed []string) *flag.Catalog {
	var keep []flag.Type
	for _, t := range all.All() {
		if !slices.Contains(disallowed, t.Abbrev) {
			keep = append(keep, *t)
		}
	}
	return flag.NewCatalog(keep...)
}

func abbrevs(c *flag.Catalog) []string {
	var out []string
	for _, t := range c.All() {
		out = append(out, t.Abbrev)
	}
	return out
}

func negotiatorConfig(f config.FlagsConfig) negotiate.Config {
	return negotiate.Config{
		Required:   f.Required,
		ExtraFlags: f.ExtraFlags,
		Disallowed: negotiate.NewSet(f.Disallowed...),
	}
}

// newFlagRegistry pins required slots first, in abbreviation order, and
// fills the rest with extra slots. Flags appear on the first tick.
func newFlagRegistry(cfg config.Config, rng *rand.Rand) (*flag.Registry, error) {
	catalog := allowedCatalog(flag.DefaultCatalog(), cfg.Flags.Disallowed)
	placer := &world.RandomPlacer{Size: cfg.World.Size, Rand: rng}
	fc := flag.Config{
		Altitude:      cfg.World.FlagAltitude,
		Gravity:       cfg.World.Gravity,
		MaxGrabs:      cfg.Flags.MaxGrabs,
		GroundTimeout: cfg.Flags.GroundTimeout,
		SingleUse:     cfg.Flags.SingleUse,
	}
	reg := flag.NewRegistry(fc, catalog, cfg.Flags.PoolSize(), placer, flag.WithRand(rng))

	required := make([]string, 0, len(cfg.Flags.Required))
	for a := range cfg.Flags.Required {
		required = append(required, a)
	}
	sort.Strings(required)

	i := 0
	for _, a := range required {
		for n := 0; n < cfg.Flags.Required[a]; n++ {
			if err := reg.Require(i, a); err != nil {
				return nil, fmt.Errorf("required flag %s: %w", a, err)
			}
			i++
		}
	}
	for ; i < reg.Len(); i++ {
		if err := reg.AllowExtra(i); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// runSettings records the tunables that shape a run's audit trail.
func runSettings(cfg config.Config) map[string]any {
	return map[string]any{
		"tickInterval":    cfg.Server.TickInterval.String(),
		"frameRate":       cfg.Server.FrameRate,
		"auditObservers":  cfg.Server.AuditObservers,
		"gravity":         cfg.World.Gravity,
		"tankSpeed":       cfg.World.TankSpeed,
		"requiredFlags":   cfg.Flags.Required,
		"extraFlags":      cfg.Flags.ExtraFlags,
		"heightChecks":    cfg.Cheat.HeightChecks,
		"speedChecks":     cfg.Cheat.SpeedChecks,
		"speedTolerance":  cfg.Cheat.SpeedTolerance,
		"verticalEpsilon": cfg.Cheat.VerticalEpsilon,
		"storage":         cfg.Storage.Type,
	}
}

func newServerRun(cfg config.Config, start time.Time) *core.ServerRun {
	run := core.NewServerRun(cfg.Server.Name, Version, start)
	run.WorldSize = float32(cfg.World.Size)
	run.MaxPlayers = cfg.Server.MaxPlayers
	run.MaxFlags = cfg.Flags.PoolSize()
	run.Settings = runSettings(cfg)
	return run
}
