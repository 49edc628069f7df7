// Package server owns the listener, the per-connection readers and the
// single tick thread that runs every handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bzforge/bzfs/internal/dispatcher"
	"github.com/bzforge/bzfs/internal/handlers"
	"github.com/bzforge/bzfs/internal/queue"
	"github.com/bzforge/bzfs/internal/scheduler"
	"github.com/bzforge/bzfs/internal/session"
	"github.com/bzforge/bzfs/internal/world"
	"go.opentelemetry.io/otel/metric"
)

// ReasonProtocol is the removal reason for a client that sent a malformed
// or out-of-sequence frame.
const ReasonProtocol = "protocol error"

// Config holds listener and tick loop settings.
type Config struct {
	// TickInterval is the minimum spacing of flag and scheduler ticks.
	TickInterval time.Duration
	// PollWait bounds how long an idle tick waits for the first frame.
	PollWait time.Duration
	// InboundBuffer is the per-session queue length between reader and tick.
	InboundBuffer int
	// FrameRate and FrameBurst limit inbound frames per session. A zero
	// rate disables limiting.
	FrameRate  float64
	FrameBurst int
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:  20 * time.Millisecond,
		PollWait:      100 * time.Millisecond,
		InboundBuffer: 256,
		FrameRate:     100,
		FrameBurst:    50,
		WriteTimeout:  5 * time.Second,
	}
}

// Dependencies holds everything the tick thread drives.
type Dependencies struct {
	Sessions   *session.Table
	Service    *handlers.Service
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
	World      *world.Context
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Stats are counters readable from any goroutine.
type Stats struct {
	Dropped      uint64
	LastTick     time.Duration
	FullRejected uint64
	Unhandled    uint64
}

// Server runs the game loop.
type Server struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	accepted *queue.Queue[net.Conn]
	conns    map[session.ID]*conn
	notify   chan struct{}

	dropped      atomic.Uint64
	fullRejected atomic.Uint64
	unhandled    atomic.Uint64
	lastTick     atomic.Int64
	lastHouse    time.Time

	reportedDropped uint64

	droppedCounter metric.Int64Counter
}

// New creates a Server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = DefaultConfig().InboundBuffer
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultConfig().PollWait
	}

	dropped, err := meter().Int64Counter(
		"server.frames.dropped",
		metric.WithDescription("Inbound frames discarded by the per-session rate limit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return &Server{
		cfg:            cfg,
		deps:           deps,
		log:            deps.Logger.With("component", "server"),
		accepted:       queue.New[net.Conn](),
		conns:          make(map[session.ID]*conn),
		notify:         make(chan struct{}, 1),
		droppedCounter: dropped,
	}, nil
}

// Stats returns the running counters.
func (s *Server) Stats() Stats {
	return Stats{
		Dropped:      s.dropped.Load(),
		LastTick:     time.Duration(s.lastTick.Load()),
		FullRejected: s.fullRejected.Load(),
		Unhandled:    s.unhandled.Load(),
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs the tick loop until ctx is
// cancelled. Every session is removed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("Server listening", "addr", ln.Addr().String())

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ln)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for ctx.Err() == nil {
		s.Step(ctx)
	}

	<-acceptDone
	s.shutdown()
	return nil
}

// Push hands an accepted connection to the tick thread.
func (s *Server) Push(nc net.Conn) {
	s.accepted.Push(nc)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error("Accept failed", "error", err)
			}
			return
		}
		s.Push(nc)
	}
}

// Step runs one iteration of the loop: admit new connections, process
// queued frames (waiting at most PollWait if none are queued), then run
// the periodic work.
func (s *Server) Step(ctx context.Context) {
	start := s.deps.Clock()

	s.admit(start)
	if s.poll() == 0 {
		s.wait(ctx)
		s.admit(s.deps.Clock())
		s.poll()
	}

	now := s.deps.Clock()
	if now.Sub(s.lastHouse) >= s.cfg.TickInterval {
		s.lastHouse = now
		s.deps.World.Advance(s.deps.Sessions.Len())
		s.deps.Service.Tick(now)
		s.deps.Scheduler.RunPending(now)
	}
	s.lastTick.Store(int64(s.deps.Clock().Sub(start)))
}

func (s *Server) wait(ctx context.Context) {
	timer := time.NewTimer(s.cfg.PollWait)
	defer timer.Stop()
	select {
	case <-s.notify:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Server) admit(now time.Time) {
	for {
		nc, ok := s.accepted.Pop()
		if !ok {
			return
		}
		c := newConn(nc, s.cfg, s.notify, &s.dropped)
		sess, err := s.deps.Sessions.Add(c, now)
		if err != nil {
			s.fullRejected.Add(1)
			s.log.Info("Rejecting connection", "addr", c.RemoteAddr(), "error", err)
			if err := handlers.RejectFull(c); err != nil {
				s.log.Debug("Reject send failed", "addr", c.RemoteAddr(), "error", err)
			}
			c.Close()
			continue
		}
		s.conns[sess.ID] = c
		s.log.Debug("Connection accepted", "session", sess.ID, "addr", c.RemoteAddr())
		go c.read()
	}
}

// poll dispatches every frame already queued, in per-session arrival order.
func (s *Server) poll() int {
	n := 0
	for id, c := range s.conns {
		if c.isClosed() {
			delete(s.conns, id)
			continue
		}
		n += s.drain(id, c)
	}
	if total := s.dropped.Load(); total > s.reportedDropped {
		s.droppedCounter.Add(context.Background(), int64(total-s.reportedDropped))
		s.log.Debug("Frames dropped by rate limit", "total", total)
		s.reportedDropped = total
	}
	return n
}

// drain handles at most one buffer's worth so a flooding client cannot
// starve the rest of the tick.
func (s *Server) drain(id session.ID, c *conn) int {
	n := 0
	for n < s.cfg.InboundBuffer {
		select {
		case in := <-c.inbox.Receive():
			n++
			if !s.handle(id, c, in) {
				return n
			}
		default:
			return n
		}
	}
	return n
}

// handle dispatches one inbound item and reports whether the session is
// still alive.
func (s *Server) handle(id session.ID, c *conn, in inbound) bool {
	if in.err != nil {
		if errors.Is(in.err, io.EOF) || isDisconnect(in.err) {
			s.log.Debug("Connection closed", "session", id)
		} else {
			s.log.Info("Read failed", "session", id, "error", in.err)
		}
		s.deps.Service.RemovePlayer(id, handlers.ReasonConnection)
		c.Close()
		return false
	}

	if !s.deps.Dispatcher.HasHandler(in.frame.Code) {
		s.unhandled.Add(1)
		s.log.Debug("Unhandled frame", "session", id, "frame", in.frame.String())
	}
	err := s.deps.Dispatcher.Dispatch(dispatcher.Event{SessionID: uint8(id), Frame: in.frame, Received: in.received})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrPanic):
		s.log.Error("Handler panicked", "session", id, "frame", in.frame.String(), "error", err)
		s.deps.Service.RemovePlayer(id, handlers.ReasonInternal)
	case errors.Is(err, handlers.ErrProtocol):
		s.log.Info("Protocol error", "session", id, "frame", in.frame.String(), "error", err)
		s.deps.Service.RemovePlayer(id, ReasonProtocol)
	default:
		s.log.Warn("Handler failed", "session", id, "frame", in.frame.String(), "error", err)
	}
	return !c.isClosed()
}

func (s *Server) shutdown() {
	s.log.Info("Server shutting down", "sessions", s.deps.Sessions.Len())
	s.deps.Service.RemoveAll(handlers.ReasonShutdown)
	for id, c := range s.conns {
		c.Close()
		delete(s.conns, id)
	}
	for {
		nc, ok := s.accepted.Pop()
		if !ok {
			return
		}
		nc.Close()
	}
}
