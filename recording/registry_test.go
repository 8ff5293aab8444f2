package recording

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/catalog"
	"relaycore/config"
	"relaycore/relay"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "streams.ini"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	relayCfg := config.RelayConfig{Host: "127.0.0.1", ManagementPort: 19997}
	controller := relay.NewController(relayCfg)
	client := relay.NewClient(relayCfg, controller)
	cat := catalog.New(store, client, 0)

	return NewRegistry(t.TempDir(), cat, client, &fakeSegmentStore{}, 3)
}

func TestConsumerForReturnsSameInstance(t *testing.T) {
	reg := newTestRegistry(t)
	a := reg.consumerFor("cam1")
	b := reg.consumerFor("cam1")
	assert.Same(t, a, b)
}

func TestConsumerForDistinctStreamsGetDistinctConsumers(t *testing.T) {
	reg := newTestRegistry(t)
	a := reg.consumerFor("cam1")
	b := reg.consumerFor("cam2")
	assert.NotSame(t, a, b)
}

func TestStopAllNoopWithNoConsumers(t *testing.T) {
	reg := newTestRegistry(t)
	assert.NotPanics(t, func() { reg.StopAll() })
}

func TestStopUnknownStreamIsNoop(t *testing.T) {
	reg := newTestRegistry(t)
	assert.NoError(t, reg.Stop("never-started"))
}
