// Package dispatcher routes decoded wire frames to per-code handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bzforge/bzfs/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrPanic wraps a panic recovered from a handler registered with Recovered.
var ErrPanic = errors.New("handler panicked")

// Event is one frame received from a session.
type Event struct {
	SessionID uint8
	Frame     protocol.Frame
	Received  time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged    bool
	recovered bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Recovered turns a handler panic into an error.
func Recovered() Option {
	return func(c *config) {
		c.recovered = true
	}
}

// Dispatcher routes events to registered handlers. Handlers run on the
// caller's goroutine.
type Dispatcher struct {
	handlers map[uint16]HandlerFunc
	logger   Logger

	processed metric.Int64Counter
	ignored   metric.Int64Counter
	failed    metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[uint16]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.frames.processed",
		metric.WithDescription("Total frames handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.ignored, err = m.Int64Counter(
		"dispatcher.frames.ignored",
		metric.WithDescription("Total frames with no registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ignored counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.frames.failed",
		metric.WithDescription("Total frames whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given code with optional configuration.
func (d *Dispatcher) Register(code uint16, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.recovered {
		handler = withRecover(code, handler)
	}

	if cfg.logged {
		handler = d.withLogging(code, handler)
	}

	d.handlers[code] = handler
}

// Dispatch routes an event to its registered handler. Unknown codes are
// ignored so newer clients can talk to this server.
func (d *Dispatcher) Dispatch(e Event) error {
	codeAttr := metric.WithAttributes(attribute.String("code", protocol.CodeString(e.Frame.Code)))

	h, ok := d.handlers[e.Frame.Code]
	if !ok {
		d.ignored.Add(context.Background(), 1, codeAttr)
		return nil
	}

	if err := h(e); err != nil {
		d.failed.Add(context.Background(), 1, codeAttr)
		return err
	}
	d.processed.Add(context.Background(), 1, codeAttr)
	return nil
}

// HasHandler returns true if a handler is registered for the code.
func (d *Dispatcher) HasHandler(code uint16) bool {
	_, ok := d.handlers[code]
	return ok
}

func withRecover(code uint16, h HandlerFunc) HandlerFunc {
	return func(e Event) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", ErrPanic, protocol.CodeString(code), r)
			}
		}()
		return h(e)
	}
}

func (d *Dispatcher) withLogging(code uint16, h HandlerFunc) HandlerFunc {
	name := protocol.CodeString(code)
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling frame", "code", name, "session", e.SessionID, "len", e.Frame.Len())

		err := h(e)

		if err != nil {
			d.logger.Error("frame failed", "code", name, "session", e.SessionID, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("frame complete", "code", name, "session", e.SessionID, "duration", time.Since(start))
		}

		return err
	}
}
