// Package api registers the server with a public list server.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bzforge/bzfs/internal/config"
	"github.com/bzforge/bzfs/internal/scheduler"
	"github.com/bzforge/bzfs/pkg/protocol"
)

// ErrRejected is returned when the list server answers with an ERROR line.
var ErrRejected = errors.New("list server rejected request")

// Info is the live server state advertised on each registration.
type Info struct {
	Players    int
	MaxPlayers int
}

// Client handles communication with the list server.
type Client struct {
	baseURL     string
	nameport    string
	description string
	httpClient  *http.Client
	log         *slog.Logger

	inFlight atomic.Bool
}

// New creates a new list server client.
func New(cfg config.ListServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		nameport:    cfg.PublicAddress,
		description: cfg.Description,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         logger.With("component", "listserver"),
	}
}

// Healthcheck checks if the list server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?action=LIST&version="+protocol.ProtocolVersion, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Register adds or refreshes this server's entry.
func (c *Client) Register(ctx context.Context, info Info) error {
	form := url.Values{}
	form.Set("action", "ADD")
	form.Set("nameport", c.nameport)
	form.Set("version", "BZFS"+protocol.ProtocolVersion)
	form.Set("title", c.description)
	form.Set("players", strconv.Itoa(info.Players))
	form.Set("maxplayers", strconv.Itoa(info.MaxPlayers))
	return c.post(ctx, form)
}

// Remove deletes this server's entry.
func (c *Client) Remove(ctx context.Context) error {
	form := url.Values{}
	form.Set("action", "REMOVE")
	form.Set("nameport", c.nameport)
	return c.post(ctx, form)
}

func (c *Client) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", form.Get("action"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", form.Get("action"), resp.StatusCode)
	}

	// The reply is line oriented: MSG: lines are informational.
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if msg, ok := strings.CutPrefix(line, "ERROR:"); ok {
			return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(msg))
		}
		if msg, ok := strings.CutPrefix(line, "MSG:"); ok {
			c.log.Debug("List server message", "msg", strings.TrimSpace(msg))
		}
	}
	return sc.Err()
}

// Task returns a scheduler task that re-registers every interval. The HTTP
// call runs off the tick thread and overlapping calls are skipped.
func (c *Client) Task(interval time.Duration, info func() Info) scheduler.Task {
	return scheduler.Every("listserver", interval, func(now time.Time) error {
		if !c.inFlight.CompareAndSwap(false, true) {
			return nil
		}
		i := info()
		go func() {
			defer c.inFlight.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
			defer cancel()
			if err := c.Register(ctx, i); err != nil {
				c.log.Warn("List server registration failed", "error", err)
			}
		}()
		return nil
	})
}
