// Package catalog implements the Stream Catalog (C5, spec.md section 4.3):
// the in-memory registry coordinating stream identity, credentials, Relay
// registration state and downstream recording/HLS consumers.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"relaycore/config"
	"relaycore/models"
	"relaycore/relay"
)

// Catalog exclusively owns StreamState, RelayRegistration and
// OriginalConfig for every stream (spec.md section 3 Ownership). It holds a
// reference to the Config Store for read-through and to the Relay API
// Client for reconciliation, but never owns either.
type Catalog struct {
	store *config.StreamStore
	relayClient *relay.Client

	mu      sync.RWMutex
	runtime map[string]*models.StreamRuntime

	maxEntries int
}

// New builds a Catalog backed by store and relayClient. maxEntries bounds
// the catalog size (spec.md section 9: "retain a configurable maximum to
// preserve resource bounds"); zero means unbounded.
func New(store *config.StreamStore, relayClient *relay.Client, maxEntries int) *Catalog {
	return &Catalog{
		store:       store,
		relayClient: relayClient,
		runtime:     make(map[string]*models.StreamRuntime),
		maxEntries:  maxEntries,
	}
}

// ReloadFromConfig replaces the catalog's runtime set from the Config Store
// and registers every enabled stream with the Relay (spec.md section 4.3).
func (c *Catalog) ReloadFromConfig(ctx context.Context) (failed []string) {
	streams := c.store.List()

	c.mu.Lock()
	next := make(map[string]*models.StreamRuntime, len(streams))
	for _, st := range streams {
		if existing, ok := c.runtime[st.Name]; ok {
			next[st.Name] = existing
		} else {
			next[st.Name] = models.NewStreamRuntime(st.Name)
		}
	}
	c.runtime = next
	c.mu.Unlock()

	return c.RegisterAll(ctx)
}

// streamRuntime fetches (or, defensively, lazily creates) a runtime record.
func (c *Catalog) streamRuntime(name string) *models.StreamRuntime {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtime[name]
	if !ok {
		rt = models.NewStreamRuntime(name)
		c.runtime[name] = rt
	}
	return rt
}

// Runtime returns the runtime record for name, if the catalog has one.
func (c *Catalog) Runtime(name string) (*models.StreamRuntime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.runtime[name]
	return rt, ok
}

// Names returns every stream name currently tracked.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.runtime))
	for n := range c.runtime {
		out = append(out, n)
	}
	return out
}

// Add persists a new stream (mutating the Config Store first) then
// reconciles it with the Relay, per spec.md section 4.3.
func (c *Catalog) Add(ctx context.Context, st models.Stream) error {
	c.mu.RLock()
	atCapacity := c.maxEntries > 0 && len(c.runtime) >= c.maxEntries
	c.mu.RUnlock()
	if atCapacity {
		return fmt.Errorf("catalog: at capacity (%d streams)", c.maxEntries)
	}

	if err := c.store.Add(st); err != nil {
		return err
	}

	rt := c.streamRuntime(st.Name)
	rt.SetState(models.StreamInitializing)

	if st.Enabled {
		if err := c.registerOne(ctx, st); err != nil {
			log.Warn().Str("stream", st.Name).Err(err).Msg("catalog: initial registration failed")
			rt.SetState(models.StreamError)
			return nil // registration failures are reported, not fatal (spec.md section 7)
		}
		rt.SetState(models.StreamRunning)
	}
	return nil
}

// Update mutates the Config Store row, then reconciles with the Relay: on
// update-to-disabled it unregisters; on a changed URL/credentials it does
// unregister-then-register with a 500ms settling delay (spec.md section
// 4.3).
func (c *Catalog) Update(ctx context.Context, name string, mutate func(models.Stream) models.Stream) error {
	before, hadBefore := c.store.Get(name)

	after, err := c.store.Update(name, mutate)
	if err != nil {
		return err
	}

	rt := c.streamRuntime(name)

	switch {
	case hadBefore && before.Enabled && !after.Enabled:
		if err := c.relayClient.Unregister(ctx, name); err != nil {
			log.Warn().Str("stream", name).Err(err).Msg("catalog: unregister on disable failed")
		}
		rt.SetState(models.StreamStopped)

	case after.Enabled && (!hadBefore || before.URL != after.URL || before.ONVIFUser != after.ONVIFUser || before.ONVIFPass != after.ONVIFPass || !before.Enabled):
		if hadBefore && before.Enabled {
			if err := c.relayClient.Unregister(ctx, name); err != nil {
				log.Warn().Str("stream", name).Err(err).Msg("catalog: unregister before re-register failed")
			}
			time.Sleep(500 * time.Millisecond)
		}
		if err := c.registerOne(ctx, after); err != nil {
			log.Warn().Str("stream", name).Err(err).Msg("catalog: registration after update failed")
			rt.SetState(models.StreamError)
			return nil
		}
		rt.SetState(models.StreamRunning)
	}
	return nil
}

// Delete removes the row from the Config Store and unregisters the stream
// from the Relay.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if err := c.store.Delete(name); err != nil {
		return err
	}
	if err := c.relayClient.Unregister(ctx, name); err != nil {
		log.Warn().Str("stream", name).Err(err).Msg("catalog: unregister on delete failed")
	}

	c.mu.Lock()
	delete(c.runtime, name)
	c.mu.Unlock()
	return nil
}

func (c *Catalog) registerOne(ctx context.Context, st models.Stream) error {
	if err := c.relayClient.Register(ctx, st.Name, st.URL, st.ONVIFUser, st.ONVIFPass, st.Backchannel); err != nil {
		return err
	}
	rt := c.streamRuntime(st.Name)

	rtspURL, _ := c.relayClient.DeriveRTSPURL(ctx, st.Name)
	webrtcURL, _ := c.relayClient.DeriveWebRTCURL(ctx, st.Name)
	rt.SetRegistration(models.RelayRegistration{
		Registered: true,
		RTSPURL:    rtspURL,
		WebRTCURL:  webrtcURL,
	})
	return nil
}

// RegisterAll bulk-registers every enabled stream. It never fails
// globally; it returns the names that failed (spec.md section 4.3,
// invariant 1 of section 8).
func (c *Catalog) RegisterAll(ctx context.Context) (failed []string) {
	for _, st := range c.store.List() {
		if !st.Enabled {
			continue
		}
		if err := c.registerOne(ctx, st); err != nil {
			log.Warn().Str("stream", st.Name).Err(err).Msg("catalog: register_all: registration failed")
			failed = append(failed, st.Name)
			c.streamRuntime(st.Name).SetState(models.StreamError)
			continue
		}
		c.streamRuntime(st.Name).SetState(models.StreamRunning)
	}
	return failed
}

// EnsureReadyFor blocks, with retries, up to deadline until the Relay is up
// and the stream is registered (spec.md section 4.3, default 40s).
func (c *Catalog) EnsureReadyFor(ctx context.Context, name string) error {
	st, ok := c.store.Get(name)
	if !ok {
		return fmt.Errorf("catalog: unknown stream %q", name)
	}

	deadline := time.Now().Add(40 * time.Second)
	backoff := 500 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		exists, err := c.relayClient.Exists(ctx, name)
		if err == nil && exists {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("catalog: %q not ready after deadline: %w", name, err)
		}

		if regErr := c.registerOne(ctx, st); regErr != nil {
			log.Debug().Str("stream", name).Err(regErr).Msg("catalog: ensure_ready_for retry")
		} else {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// BeginRecordingViaRelay marks a stream's "recording via relay" flag and
// stashes OriginalConfig so it can be restored exactly on stop (spec.md
// section 4.3, invariant 4 of section 8). Per spec.md section 9's resolved
// Open Question, this never mutates the persisted Config Store row — the
// rewrite is purely runtime state.
func (c *Catalog) BeginRecordingViaRelay(name string, original models.OriginalConfig) {
	c.streamRuntime(name).BeginRecordingViaRelay(original)
}

// EndRecordingViaRelay clears the flag and returns the OriginalConfig to
// restore, or nil if none was set.
func (c *Catalog) EndRecordingViaRelay(name string) *models.OriginalConfig {
	return c.streamRuntime(name).EndRecordingViaRelay()
}

// StreamConfig returns the persisted Config Store row for name, used by the
// Unified Health Monitor when it needs to re-register a stream from
// scratch.
func (c *Catalog) StreamConfig(name string) (models.Stream, error) {
	st, ok := c.store.Get(name)
	if !ok {
		return models.Stream{}, fmt.Errorf("catalog: unknown stream %q", name)
	}
	return st, nil
}

// EnabledStreamNames returns the names of every currently-enabled stream,
// used by the Health Monitor's consensus computation (spec.md section
// 4.4).
func (c *Catalog) EnabledStreamNames() []string {
	var out []string
	for _, st := range c.store.List() {
		if st.Enabled {
			out = append(out, st.Name)
		}
	}
	return out
}
