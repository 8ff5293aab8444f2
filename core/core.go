// Package core assembles the single owned "Core" value spec.md section 9
// calls for: every subsystem constructed once at daemon start and handed a
// reference, replacing the source's process-wide singletons.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"relaycore/catalog"
	"relaycore/config"
	"relaycore/health"
	"relaycore/metrics"
	"relaycore/recording"
	"relaycore/relay"
	"relaycore/segments"
	"relaycore/timeline"
)

// Core owns every long-lived subsystem. No hidden singletons; no
// reinitialization semantics (spec.md section 9).
type Core struct {
	Config *config.Config

	Streams      *config.StreamStore
	Catalog      *catalog.Catalog
	RelayCtl     *relay.Controller
	RelayClient  *relay.Client
	Segments     *segments.Catalog
	Timeline     *timeline.Engine
	HealthMon    *health.Monitor
	Recordings   *recording.Registry

	cancel context.CancelFunc
}

// New wires every subsystem from ambient config, a config-store path, and
// a migrated database handle. Apart from the Config Store's file watch, it
// does not start anything — call Run for the Relay, the Recording
// Consumers and the Health Monitor.
func New(cfg *config.Config, streamConfigPath string, db *gorm.DB) (*Core, error) {
	store, err := config.Open(streamConfigPath)
	if err != nil {
		return nil, fmt.Errorf("core: open stream store: %w", err)
	}

	relayCtl := relay.NewController(cfg.Relay)
	relayClient := relay.NewClient(cfg.Relay, relayCtl)
	cat := catalog.New(store, relayClient, 0)
	if err := store.Watch(func() { cat.ReloadFromConfig(context.Background()) }); err != nil {
		log.Warn().Err(err).Msg("core: stream store watch failed, hand edits require a restart")
	}

	segCatalog := segments.New(db)
	tl := timeline.New(segCatalog, cfg.Storage.ScratchDir)

	healthCfg := health.DefaultConfig()
	registry := recording.NewRegistry(cfg.Storage.DataRoot, cat, relayClient, segCatalog, healthCfg.StreamMaxConsecutiveFailures)

	mon := health.New(healthCfg, relayCtl, relayClient, cat)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	return &Core{
		Config:      cfg,
		Streams:     store,
		Catalog:     cat,
		RelayCtl:    relayCtl,
		RelayClient: relayClient,
		Segments:    segCatalog,
		Timeline:    tl,
		HealthMon:   mon,
		Recordings:  registry,
	}, nil
}

// Run starts the Relay, registers every enabled stream, starts every
// stream's Recording Consumer, and launches the Health Monitor's long-lived
// loop plus the reconnect-event drain. It blocks until ctx is cancelled,
// then performs the cooperative shutdown sequence from spec.md section 5.
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	if err := c.RelayCtl.Start(ctx, c.Config.Relay.ManagementPort); err != nil {
		return fmt.Errorf("core: relay start: %w", err)
	}

	startupTimeout, err := time.ParseDuration(c.Config.Relay.StartupTimeout)
	if err != nil {
		startupTimeout = 40 * time.Second
	}
	if err := c.RelayCtl.WaitReady(ctx, startupTimeout); err != nil {
		return fmt.Errorf("core: relay did not become ready: %w", err)
	}

	if failed := c.Catalog.ReloadFromConfig(ctx); len(failed) > 0 {
		log.Warn().Strs("streams", failed).Msg("core: some streams failed initial registration")
	}

	for _, name := range c.Catalog.Names() {
		name := name
		if err := c.Recordings.Start(ctx, name); err != nil {
			log.Warn().Str("stream", name).Err(err).Msg("core: recording consumer failed to start")
		}
	}

	go c.HealthMon.Run(ctx)
	go c.Recordings.DrainReconnects(ctx, c.HealthMon)

	log.Info().Msg("core: running")
	<-ctx.Done()
	return c.shutdown()
}

// Shutdown requests the cooperative shutdown sequence (spec.md section 5):
// Health Monitor exits its loop, every Recording Consumer receives stop,
// and the Relay Controller issues stop.
func (c *Core) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Core) shutdown() error {
	log.Info().Msg("core: shutting down")
	c.Recordings.StopAll()
	if err := c.RelayCtl.Stop(5 * time.Second); err != nil && err != relay.ErrNotRunning {
		log.Warn().Err(err).Msg("core: relay stop failed during shutdown")
	}
	c.Streams.Close()
	log.Info().Msg("core: shutdown complete")
	return nil
}
