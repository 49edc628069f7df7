// Package world holds the shared, read-mostly description of the running game.
package world

import (
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/bzforge/bzfs/internal/flag"
	"github.com/bzforge/bzfs/pkg/core"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// Settings are the physical constants of the loaded world.
type Settings struct {
	Size         float64
	Gravity      float64
	MaxHeight    float64
	BurrowDepth  float64
	FlagAltitude float64
	TankSpeed    float64
	JumpVelocity float64
	TankRadius   float64
	FlagRadius   float64
}

// Context holds the current run and world state. Getters may be called
// from any goroutine; the tick thread is the only writer.
type Context struct {
	mu       sync.RWMutex
	run      *core.ServerRun
	settings Settings
	changing bool
	tick     uint64
	sessions int
}

// NewContext creates a Context with no run attached.
func NewContext(settings Settings) *Context {
	return &Context{
		run:      &core.ServerRun{ServerName: "No run started"},
		settings: settings,
	}
}

// Run returns the current server run.
func (c *Context) Run() *core.ServerRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// SetRun attaches the current server run.
func (c *Context) SetRun(run *core.ServerRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = run
}

// Settings returns the world constants.
func (c *Context) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Changing reports whether a world swap is in progress.
func (c *Context) Changing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changing
}

// SetChanging marks the start or end of a world swap.
func (c *Context) SetChanging(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changing = v
}

// Advance bumps the tick counter and records the live session count.
func (c *Context) Advance(sessions int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	c.sessions = sessions
	return c.tick
}

// Tick returns the current tick number.
func (c *Context) Tick() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// Sessions returns the live session count as of the last tick.
func (c *Context) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions
}

// Vars returns the world variables clients need to predict physics.
func (c *Context) Vars() map[string]string {
	s := c.Settings()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]string{
		"_gravity":      f(s.Gravity),
		"_worldSize":    f(s.Size),
		"_tankSpeed":    f(s.TankSpeed),
		"_jumpVelocity": f(s.JumpVelocity),
		"_burrowDepth":  f(s.BurrowDepth),
		"_flagAltitude": f(s.FlagAltitude),
	}
}

// RandomPlacer drops flags uniformly over the world floor, away from the
// outer wall.
type RandomPlacer struct {
	Size float64
	Rand *rand.Rand
}

// Place implements flag.Placer.
func (p *RandomPlacer) Place(*flag.Type) protocol.Vec3 {
	half := p.Size/2 - 10
	if half < 0 {
		half = 0
	}
	x := (p.Rand.Float64()*2 - 1) * half
	y := (p.Rand.Float64()*2 - 1) * half
	return protocol.Vec3{float32(x), float32(y), 0}
}
