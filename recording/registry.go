package recording

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"relaycore/catalog"
	"relaycore/health"
	"relaycore/relay"
)

// Registry owns every stream's Consumer and is the drain side of the
// Health Monitor's reconnect-event channel, breaking the Health Monitor
// <-> Recording Consumer cyclic dependency described in spec.md section 9
// via message passing instead of a direct call.
type Registry struct {
	dataRoot               string
	cat                    *catalog.Catalog
	relayClient            *relay.Client
	segments               SegmentStore
	maxConsecutiveFailures int32

	mu        sync.Mutex
	consumers map[string]*Consumer
}

// NewRegistry builds an empty Registry. maxConsecutiveFailures is forwarded
// to every Consumer it creates, so the RECONNECTING->ERROR escalation stays
// in lockstep with the Health Monitor's StreamMaxConsecutiveFailures.
func NewRegistry(dataRoot string, cat *catalog.Catalog, relayClient *relay.Client, segments SegmentStore, maxConsecutiveFailures int32) *Registry {
	return &Registry{
		dataRoot:               dataRoot,
		cat:                    cat,
		relayClient:            relayClient,
		segments:               segments,
		maxConsecutiveFailures: maxConsecutiveFailures,
		consumers:              make(map[string]*Consumer),
	}
}

func (r *Registry) consumerFor(name string) *Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[name]
	if !ok {
		c = NewConsumer(name, r.dataRoot, r.cat, r.relayClient, r.segments, r.maxConsecutiveFailures)
		r.consumers[name] = c
	}
	return c
}

// Start begins recording for name.
func (r *Registry) Start(ctx context.Context, name string) error {
	return r.consumerFor(name).Start(ctx)
}

// Stop halts recording for name with the default grace period.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	c, ok := r.consumers[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Stop(10 * time.Second)
}

// StopAll halts every consumer, used on daemon shutdown (spec.md section 5).
func (r *Registry) StopAll() {
	r.mu.Lock()
	all := make([]*Consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		all = append(all, c)
	}
	r.mu.Unlock()

	for _, c := range all {
		if err := c.Stop(10 * time.Second); err != nil {
			log.Warn().Err(err).Msg("recording: consumer stop failed during shutdown")
		}
	}
}

// SignalReconnect restarts a single stream's consumer.
func (r *Registry) SignalReconnect(ctx context.Context, name string) {
	c := r.consumerFor(name)
	if err := c.SignalReconnect(ctx); err != nil {
		log.Warn().Str("stream", name).Err(err).Msg("recording: reconnect signal failed")
	}
}

// SignalReconnectAll restarts every known consumer (spec.md section 4.5
// "signal_reconnect_all", used after a Relay restart).
func (r *Registry) SignalReconnectAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.consumers))
	for n := range r.consumers {
		names = append(names, n)
	}
	r.mu.Unlock()

	for _, n := range names {
		r.SignalReconnect(ctx, n)
	}
}

// DrainReconnects runs for the lifetime of ctx, draining mon.Reconnects and
// dispatching to the appropriate consumer(s). This is the message-passing
// side of the cycle break: the Health Monitor never calls into the
// Registry directly.
func (r *Registry) DrainReconnects(ctx context.Context, mon *health.Monitor) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mon.Reconnects:
			if ev.All {
				r.SignalReconnectAll(ctx)
				continue
			}
			r.SignalReconnect(ctx, ev.Stream)
		}
	}
}
