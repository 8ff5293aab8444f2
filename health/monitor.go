// Package health implements the Unified Health Monitor (C6, spec.md
// section 4.4): a single cooperative watchdog that recovers both
// individual stream failures and whole-Relay failures, with rate limiting.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"relaycore/catalog"
	"relaycore/metrics"
	"relaycore/models"
	"relaycore/relay"
)

// Config holds the Health Monitor's tunables; field names and defaults
// mirror spec.md section 4.4 exactly.
type Config struct {
	TickInterval                  time.Duration // default 30s
	MaxAPIFailures                int           // default 3
	RestartCooldown               time.Duration // default 120s
	MaxRestartsPerWindow          int           // default 5
	RestartWindow                 time.Duration // default 600s
	StreamMaxConsecutiveFailures  int32         // default 3
	StreamReregistrationCooldown  time.Duration // default 60s
}

// DefaultConfig returns the defaults spelled out in spec.md section 4.4.
func DefaultConfig() Config {
	return Config{
		TickInterval:                 30 * time.Second,
		MaxAPIFailures:               3,
		RestartCooldown:              120 * time.Second,
		MaxRestartsPerWindow:         5,
		RestartWindow:                600 * time.Second,
		StreamMaxConsecutiveFailures: 3,
		StreamReregistrationCooldown: 60 * time.Second,
	}
}

// ReconnectEvent is published on the Monitor's bounded channel and drained
// by the Recording Consumer side, breaking the Health
// Monitor <-> Recording Consumer cyclic dependency called out in spec.md
// section 9 ("Design Notes: Cyclic dependencies") via message passing
// instead of a direct call.
type ReconnectEvent struct {
	Stream string
	All    bool
}

// Monitor is the Unified Health Monitor. It holds only weak, by-name
// references into the Stream Catalog and never caches state across ticks
// (spec.md section 3 Ownership).
type Monitor struct {
	cfg Config

	controller *relay.Controller
	relayClient *relay.Client
	cat         *catalog.Catalog

	restartHistory *models.RestartHistory
	restartLimiter *rate.Limiter

	consecutiveAPIFailures int

	Reconnects chan ReconnectEvent
}

// New builds a Monitor. The restart rate limiter combines the cooldown +
// trailing-window check from spec.md section 4.4 with an independent
// token-bucket gate (golang.org/x/time/rate) as a second, defense-in-depth
// limiter — grounded in jmylchreest-tvarr's CircuitBreakerConfig pattern.
func New(cfg Config, controller *relay.Controller, relayClient *relay.Client, cat *catalog.Catalog) *Monitor {
	limiterRate := rate.Every(cfg.RestartWindow / time.Duration(cfg.MaxRestartsPerWindow))
	return &Monitor{
		cfg:            cfg,
		controller:     controller,
		relayClient:    relayClient,
		cat:            cat,
		restartHistory: models.NewRestartHistory(64),
		restartLimiter: rate.NewLimiter(limiterRate, cfg.MaxRestartsPerWindow),
		Reconnects:     make(chan ReconnectEvent, 32),
	}
}

// Run is the Monitor's dedicated long-lived loop. It checks ctx for
// cancellation once per second, not once per tick, so shutdown remains
// responsive even with a 30s tick interval (spec.md section 4.4
// Cancellation).
func (m *Monitor) Run(ctx context.Context) {
	secondTicker := time.NewTicker(1 * time.Second)
	defer secondTicker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health monitor: shutting down")
			return
		case <-secondTicker.C:
			elapsed += time.Second
			if elapsed >= m.cfg.TickInterval {
				elapsed = 0
				m.tick(ctx)
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	restarted := m.phase1RelayHealth(ctx)
	if restarted {
		return // skip Phase 2 on a tick in which a restart occurred
	}
	m.phase2StreamHealth(ctx)
}

// phase1RelayHealth implements spec.md section 4.4 Phase 1. It returns true
// iff a Relay restart was issued this tick.
func (m *Monitor) phase1RelayHealth(ctx context.Context) bool {
	if m.controller.IsReady(ctx) {
		if m.consecutiveAPIFailures > 0 {
			m.consecutiveAPIFailures = 0
			log.Info().Msg("health monitor: relay recovered")
		}
		return false
	}

	m.consecutiveAPIFailures++
	log.Warn().Int("consecutive_failures", m.consecutiveAPIFailures).Msg("health monitor: relay probe failed")

	if m.consecutiveAPIFailures < m.cfg.MaxAPIFailures {
		return false
	}

	enabled := m.cat.EnabledStreamNames()
	failed := 0
	for _, name := range enabled {
		rt, ok := m.cat.Runtime(name)
		if !ok {
			continue
		}
		state := rt.State()
		if state == models.StreamError || state == models.StreamReconnecting {
			failed++
		}
	}
	if len(enabled) >= 2 && failed == len(enabled) {
		log.Error().Int("enabled", len(enabled)).Msg("health monitor: consensus failure — every enabled stream is unhealthy")
	}

	if !m.restartAllowed() {
		log.Warn().Msg("health monitor: restart blocked by rate limiter")
		metrics.RelayRestartsBlockedTotal.Inc()
		return false
	}

	m.restartRelay(ctx)
	return true
}

// restartAllowed implements spec.md section 4.4's two-part rate limit: a
// cooldown since the last restart, and a cap on restarts within a trailing
// window, plus the independent token-bucket gate from New.
func (m *Monitor) restartAllowed() bool {
	last := m.restartHistory.Last()
	if !last.IsZero() && time.Since(last) < m.cfg.RestartCooldown {
		return false
	}
	since := time.Now().Add(-m.cfg.RestartWindow)
	if m.restartHistory.CountSince(since) >= m.cfg.MaxRestartsPerWindow {
		return false
	}
	return m.restartLimiter.Allow()
}

func (m *Monitor) restartRelay(ctx context.Context) {
	log.Warn().Msg("health monitor: restarting relay")

	if err := m.controller.Stop(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("health monitor: relay stop failed during restart")
	}
	time.Sleep(2 * time.Second)

	if err := m.controller.Start(ctx, m.controller.Port()); err != nil {
		log.Error().Err(err).Msg("health monitor: relay start failed during restart")
		return
	}

	if err := m.controller.WaitReady(ctx, 20*time.Second); err != nil {
		log.Error().Err(err).Msg("health monitor: relay did not become ready after restart")
		return
	}

	m.cat.RegisterAll(ctx)
	time.Sleep(2 * time.Second)

	select {
	case m.Reconnects <- ReconnectEvent{All: true}:
	default:
		log.Warn().Msg("health monitor: reconnect-all signal dropped, channel full")
	}

	m.restartHistory.Record(time.Now())
	metrics.RelayRestartsTotal.Inc()
	m.consecutiveAPIFailures = 0
}

// phase2StreamHealth implements spec.md section 4.4 Phase 2. The Monitor
// takes a snapshot of each StreamState under its per-stream lock and never
// holds that lock across the unregister/register network calls (spec.md
// section 5).
func (m *Monitor) phase2StreamHealth(ctx context.Context) {
	for _, name := range m.cat.EnabledStreamNames() {
		rt, ok := m.cat.Runtime(name)
		if !ok {
			continue
		}

		state, attempts, lastReconnect, _ := rt.Snapshot()
		metrics.StreamReconnectAttempts.WithLabelValues(name).Set(float64(attempts))
		if lkg := rt.LastKnownGood(); !lkg.IsZero() {
			metrics.StreamLastKnownGood.WithLabelValues(name).Set(float64(lkg.Unix()))
		}

		if state != models.StreamError && state != models.StreamReconnecting {
			continue
		}
		if attempts < m.cfg.StreamMaxConsecutiveFailures {
			continue
		}
		if !lastReconnect.IsZero() && time.Since(lastReconnect) < m.cfg.StreamReregistrationCooldown {
			continue
		}

		m.reregisterStream(ctx, name, rt)
	}
}

func (m *Monitor) reregisterStream(ctx context.Context, name string, rt *models.StreamRuntime) {
	log.Info().Str("stream", name).Msg("health monitor: re-registering unhealthy stream")

	if err := m.relayClient.Unregister(ctx, name); err != nil {
		log.Warn().Str("stream", name).Err(err).Msg("health monitor: unregister before re-register failed")
	}
	time.Sleep(500 * time.Millisecond)

	st, err := m.streamConfig(name)
	if err != nil {
		log.Warn().Str("stream", name).Err(err).Msg("health monitor: cannot reload stream config for re-registration")
		return
	}

	if err := m.relayClient.Register(ctx, st.Name, st.URL, st.ONVIFUser, st.ONVIFPass, st.Backchannel); err != nil {
		log.Warn().Str("stream", name).Err(err).Msg("health monitor: re-registration failed, will retry after cooldown")
		metrics.StreamRegistrationFailuresTotal.WithLabelValues(name).Inc()
		return
	}

	rt.ResetReconnect()
	rt.SetState(models.StreamRunning)

	select {
	case m.Reconnects <- ReconnectEvent{Stream: name}:
	default:
		log.Warn().Str("stream", name).Msg("health monitor: reconnect signal dropped, channel full")
	}
}

// streamConfig is a narrow accessor so reregisterStream does not need the
// Catalog's full Update/Add machinery — it only reads the current row.
func (m *Monitor) streamConfig(name string) (models.Stream, error) {
	return m.cat.StreamConfig(name)
}
