// Package logdetail writes a machine-parsable line for each join, part and
// chat message, for log scrapers that follow the server.
package logdetail

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bzforge/bzfs/internal/events"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/pkg/protocol"
)

var teamNames = []string{"ROGUE", "RED", "GREEN", "BLUE", "PURPLE", "OBSERVER", "RABBIT", "HUNTER"}

// Dependencies holds all dependencies for the logdetail plugin
type Dependencies struct {
	Bus         *events.Bus
	Sessions    *session.Table
	Logger      *slog.Logger
	Description string
}

// Plugin logs detail lines at Info.
type Plugin struct {
	deps Dependencies
	log  *slog.Logger
}

// Load registers the plugin and logs the running banner.
func Load(deps Dependencies) *Plugin {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Plugin{deps: deps, log: deps.Logger.With("component", "logdetail")}
	deps.Bus.Register(events.PlayerJoin, p)
	deps.Bus.Register(events.PlayerPart, p)
	deps.Bus.Register(events.MessageBroadcast, p)

	p.log.Info("SERVER-STATUS Running")
	p.log.Info("SERVER-MAPNAME " + deps.Description)
	p.players()
	return p
}

// Unload removes the handlers and logs the stopped banner.
func (p *Plugin) Unload() {
	p.deps.Bus.RemoveAll(p)
	p.log.Info("SERVER-STATUS Stopped")
}

func (p *Plugin) HandleEvent(d events.Data) {
	switch e := d.(type) {
	case events.PlayerJoinData:
		p.log.Info(fmt.Sprintf("PLAYER-JOIN %s #%d %s IP:%s",
			callsign(e.Callsign), e.SessionID, team(e.Team), host(e.Address)))
		p.players()
	case events.PlayerPartData:
		p.log.Info(fmt.Sprintf("PLAYER-PART %s #%d %s", callsign(e.Callsign), e.SessionID, e.Reason))
		p.players()
	case events.MessageData:
		from := p.lookup(e.From)
		switch e.To {
		case protocol.AllPlayers:
			p.log.Info(fmt.Sprintf("MSG-BROADCAST %s %s", from, e.Text))
		default:
			p.log.Info(fmt.Sprintf("MSG-DIRECT %s %s %s", from, p.lookup(e.To), e.Text))
		}
	}
}

// players logs the roster as PLAYERS (n) [ ]len:callsign() ...
func (p *Plugin) players() {
	if p.deps.Sessions == nil {
		return
	}
	entered := p.deps.Sessions.Entered()
	var b strings.Builder
	fmt.Fprintf(&b, "PLAYERS (%d) ", len(entered))
	for _, s := range entered {
		status := ' '
		if s.Observer() {
			status = '@'
		}
		fmt.Fprintf(&b, "[%c]%s() ", status, callsign(s.Callsign))
	}
	p.log.Debug(strings.TrimSpace(b.String()))
}

func (p *Plugin) lookup(id uint8) string {
	if id == protocol.ServerPlayer {
		return callsign("SERVER")
	}
	if p.deps.Sessions != nil {
		if s, ok := p.deps.Sessions.Get(session.ID(id)); ok {
			return callsign(s.Callsign)
		}
	}
	return callsign("UNKNOWN")
}

// callsign prefixes the name with its length so names with spaces parse.
func callsign(name string) string {
	return fmt.Sprintf("%d:%s", len(name), name)
}

func team(t uint16) string {
	if int(t) < len(teamNames) {
		return teamNames[t]
	}
	return "NOTEAM"
}

func host(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	if addr == "" {
		return "0.0.0.0"
	}
	return addr
}
