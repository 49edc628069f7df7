package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bzforge/bzfs/internal/channel"
	"github.com/bzforge/bzfs/pkg/protocol"
	"golang.org/x/time/rate"
)

// inbound is one item produced by a connection's reader goroutine. A
// non-nil err is the last item the reader sends.
type inbound struct {
	frame    protocol.Frame
	received time.Time
	err      error
}

// conn is the TCP transport of one session. Send is called from the tick
// thread only; Close may race with the reader goroutine.
type conn struct {
	nc           net.Conn
	writeTimeout time.Duration
	inbox        channel.Channel[inbound]
	limiter      *rate.Limiter
	notify       chan<- struct{}
	dropped      *atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func newConn(nc net.Conn, cfg Config, notify chan<- struct{}, dropped *atomic.Uint64) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	limit := rate.Limit(cfg.FrameRate)
	if cfg.FrameRate <= 0 {
		limit = rate.Inf
	}
	return &conn{
		nc:           nc,
		writeTimeout: cfg.WriteTimeout,
		inbox:        channel.New[inbound](cfg.InboundBuffer),
		limiter:      rate.NewLimiter(limit, max(cfg.FrameBurst, 1)),
		notify:       notify,
		dropped:      dropped,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Send writes f to the socket.
func (c *conn) Send(f protocol.Frame) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteFrame(c.nc, f)
}

// Close stops the reader and closes the socket. Safe to call repeatedly.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func (c *conn) RemoteAddr() string {
	if addr := c.nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *conn) isClosed() bool {
	return c.closed.Load()
}

// read runs until the socket fails or the connection is closed. Frames over
// the rate budget are dropped before they reach the tick thread.
func (c *conn) read() {
	for {
		f, err := protocol.ReadFrame(c.nc)
		if err != nil {
			if c.isClosed() {
				return
			}
			c.push(inbound{err: err})
			return
		}
		if !c.limiter.Allow() {
			c.dropped.Add(1)
			continue
		}
		if !c.push(inbound{frame: f, received: time.Now()}) {
			return
		}
	}
}

func (c *conn) push(in inbound) bool {
	if !c.inbox.SendContext(c.ctx, in) {
		return false
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func isDisconnect(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}
