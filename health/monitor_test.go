package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/catalog"
	"relaycore/config"
	"relaycore/models"
	"relaycore/relay"
)

func testMonitor(t *testing.T, cfg Config) (*Monitor, *catalog.Catalog, func()) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("/v3/config/paths/replace/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/config/paths/delete/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	relayCfg := config.RelayConfig{Host: u.Hostname(), ManagementPort: port, PublicHost: u.Hostname(), HTTPPort: "8888"}
	controller := relay.NewController(relayCfg)
	client := relay.NewClient(relayCfg, controller)

	store, err := config.Open(filepath.Join(t.TempDir(), "streams.ini"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Add(models.Stream{Name: "cam1", URL: "rtsp://cam/1", Enabled: true}))

	cat := catalog.New(store, client, 0)
	mon := New(cfg, controller, client, cat)
	return mon, cat, srv.Close
}

func TestRestartAllowedCooldown(t *testing.T) {
	cfg := DefaultConfig()
	mon, _, _ := testMonitor(t, cfg)

	mon.restartHistory.Record(time.Now())
	assert.False(t, mon.restartAllowed(), "restart within cooldown must be blocked")
}

func TestRestartAllowedTrailingWindowCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestartCooldown = 0
	mon, _, _ := testMonitor(t, cfg)

	now := time.Now()
	for i := 0; i < cfg.MaxRestartsPerWindow; i++ {
		mon.restartHistory.Record(now.Add(-time.Duration(i) * time.Second))
	}
	assert.False(t, mon.restartAllowed(), "restart count at window cap must be blocked")
}

func TestRestartAllowedWhenHistoryEmpty(t *testing.T) {
	cfg := DefaultConfig()
	mon, _, _ := testMonitor(t, cfg)
	assert.True(t, mon.restartAllowed())
}

func TestReregisterStreamResetsCounterAndRunsSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	mon, cat, _ := testMonitor(t, cfg)

	rt, ok := cat.Runtime("cam1")
	require.True(t, ok)
	rt.IncReconnectAttempt()
	rt.IncReconnectAttempt()
	rt.IncReconnectAttempt()
	rt.SetState(models.StreamError)

	mon.reregisterStream(context.Background(), "cam1", rt)

	assert.EqualValues(t, 0, rt.ReconnectAttempts())
	assert.Equal(t, models.StreamRunning, rt.State())
	assert.False(t, rt.LastReconnectTime().IsZero())
}

func TestPhase2StreamHealthSkipsDuringCooldown(t *testing.T) {
	cfg := DefaultConfig()
	mon, cat, _ := testMonitor(t, cfg)

	rt, ok := cat.Runtime("cam1")
	require.True(t, ok)

	// Drive the stream past the failure threshold and through one
	// successful re-registration, which stamps lastReconnectUnix to now.
	for i := int32(0); i < cfg.StreamMaxConsecutiveFailures; i++ {
		rt.IncReconnectAttempt()
	}
	rt.SetState(models.StreamError)
	mon.reregisterStream(context.Background(), "cam1", rt)
	require.Equal(t, models.StreamRunning, rt.State())

	// Force the stream unhealthy again immediately afterward; since the
	// cooldown window has not elapsed, phase2 must not re-register again.
	for i := int32(0); i < cfg.StreamMaxConsecutiveFailures; i++ {
		rt.IncReconnectAttempt()
	}
	rt.SetState(models.StreamError)
	lastBefore := rt.LastReconnectTime()

	mon.phase2StreamHealth(context.Background())

	assert.Equal(t, lastBefore, rt.LastReconnectTime(), "cooldown must suppress a second re-registration attempt")
	assert.Equal(t, models.StreamError, rt.State(), "state must remain ERROR while cooldown blocks recovery")
}

func TestPhase1RelayHealthReturnsFalseWhenReady(t *testing.T) {
	mon, _, _ := testMonitor(t, DefaultConfig())
	assert.False(t, mon.phase1RelayHealth(context.Background()))
	assert.Equal(t, 0, mon.consecutiveAPIFailures)
}
