// Package relay supervises the embedded Relay subprocess (MediaMTX) and
// talks to its local management API. It implements C3 (Relay Controller)
// and C4 (Relay API Client) from spec.md section 4.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"relaycore/config"
)

// ErrAlreadyRunning is returned by Start when a Relay process is already
// supervised, per spec.md section 4.1's invariant ("start after start
// without an intervening stop is an error").
var ErrAlreadyRunning = errors.New("relay: already running")

// ErrNotRunning is returned by Stop when no process is supervised.
var ErrNotRunning = errors.New("relay: not running")

// Controller supervises exactly one Relay subprocess bound to a loopback
// management port (spec.md section 4.1). It exclusively owns the process
// handle (spec.md section 3 Ownership).
type Controller struct {
	cfg config.RelayConfig

	httpClient *http.Client

	mu   sync.Mutex
	cmd  *exec.Cmd
	port int
}

// NewController builds a Controller bound to the given Relay configuration.
func NewController(cfg config.RelayConfig) *Controller {
	return &Controller{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// Start spawns the Relay subprocess with a generated config and returns
// once the process is launched; it does not wait for readiness (callers use
// WaitReady for that, per spec.md section 4.1).
func (c *Controller) Start(ctx context.Context, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return ErrAlreadyRunning
	}

	configPath, err := writeRelayConfig(c.cfg, port)
	if err != nil {
		return fmt.Errorf("relay: generate config: %w", err)
	}

	cmd := exec.CommandContext(context.Background(), c.cfg.Binary, configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relay: spawn failed: %w", err)
	}

	c.cmd = cmd
	c.port = port
	log.Info().Int("port", port).Int("pid", cmd.Process.Pid).Msg("relay: started")
	return nil
}

// Stop sends a termination signal, waits up to a bounded grace period, then
// escalates to a forced kill (spec.md section 4.1, default 5s grace).
func (c *Controller) Stop(grace time.Duration) error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}

	if grace <= 0 {
		grace = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Msg("relay: graceful stop timed out, killing")
		_ = cmd.Process.Kill()
		<-done
	}

	c.mu.Lock()
	c.cmd = nil
	c.mu.Unlock()
	return nil
}

// IsRunning reports whether a subprocess is currently supervised. It says
// nothing about readiness — spec.md section 4.1 requires readiness to be
// probed over HTTP, never via process liveness, since the process may be
// running but not yet listening.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

func (c *Controller) managementURL(path string) string {
	c.mu.Lock()
	port := c.port
	if port == 0 {
		port = c.cfg.ManagementPort
	}
	c.mu.Unlock()
	return fmt.Sprintf("http://%s:%d%s", c.cfg.Host, port, path)
}

// IsReady is true iff a freshly issued GET against the Relay's
// /api/streams-equivalent endpoint returns a 2xx within a short timeout
// (spec.md section 4.1, default 2s).
func (c *Controller) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.managementURL("/v3/paths/list"), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitReady polls IsReady with a 1-second backoff until deadline elapses.
func (c *Controller) WaitReady(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	if c.IsReady(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay: not ready after %s: %w", deadline, ctx.Err())
		case <-ticker.C:
			if c.IsReady(ctx) {
				return nil
			}
		}
	}
}

// Port returns the loopback management port the current (or last) Relay
// process was started with.
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == 0 {
		return c.cfg.ManagementPort
	}
	return c.port
}
