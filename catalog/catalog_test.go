package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/config"
	"relaycore/models"
	"relaycore/relay"
)

// testRelay is a minimal stand-in Relay management API; names in failNames
// always reject registration, modelling spec.md section 8's "bulk register
// with partial failure" scenario.
func testRelay(t *testing.T, failNames map[string]bool) (*relay.Client, func()) {
	t.Helper()
	known := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		type item struct {
			Name string `json:"name"`
		}
		var items []item
		for name := range known {
			items = append(items, item{Name: name})
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{\"items\":[]}"))
		_ = items // listing detail not required by these tests
	})
	mux.HandleFunc("/v3/config/paths/replace/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/v3/config/paths/replace/"):]
		if failNames[name] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		known[name] = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/config/paths/delete/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.RelayConfig{Host: u.Hostname(), ManagementPort: port, PublicHost: u.Hostname(), HTTPPort: "8888"}
	controller := relay.NewController(cfg)
	return relay.NewClient(cfg, controller), srv.Close
}

func newTestStore(t *testing.T) *config.StreamStore {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "streams.ini"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRegisterAllReportsPartialFailure(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(models.Stream{Name: "good", URL: "rtsp://cam/good", Enabled: true}))
	require.NoError(t, store.Add(models.Stream{Name: "bad", URL: "rtsp://cam/bad", Enabled: true}))

	client, closeSrv := testRelay(t, map[string]bool{"bad": true})
	defer closeSrv()

	cat := New(store, client, 0)
	failed := cat.ReloadFromConfig(context.Background())

	assert.Equal(t, []string{"bad"}, failed)

	goodRT, ok := cat.Runtime("good")
	require.True(t, ok)
	assert.Equal(t, models.StreamRunning, goodRT.State())

	badRT, ok := cat.Runtime("bad")
	require.True(t, ok)
	assert.Equal(t, models.StreamError, badRT.State())
}

func TestAddAtCapacityRejected(t *testing.T) {
	store := newTestStore(t)
	client, closeSrv := testRelay(t, nil)
	defer closeSrv()

	cat := New(store, client, 1)
	require.NoError(t, cat.Add(context.Background(), models.Stream{Name: "one", URL: "rtsp://cam/1"}))

	err := cat.Add(context.Background(), models.Stream{Name: "two", URL: "rtsp://cam/2"})
	assert.Error(t, err)
}

func TestBeginEndRecordingViaRelayNeverTouchesConfigStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(models.Stream{Name: "cam1", URL: "rtsp://cam/original", Enabled: true}))

	client, closeSrv := testRelay(t, nil)
	defer closeSrv()

	cat := New(store, client, 0)
	cat.BeginRecordingViaRelay("cam1", models.OriginalConfig{URL: "rtsp://cam/original"})

	st, err := cat.StreamConfig("cam1")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam/original", st.URL, "Config Store row must never be rewritten for relay-derived URLs")

	restored := cat.EndRecordingViaRelay("cam1")
	require.NotNil(t, restored)
	assert.Equal(t, "rtsp://cam/original", restored.URL)
}

func TestEnabledStreamNames(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(models.Stream{Name: "on", Enabled: true}))
	require.NoError(t, store.Add(models.Stream{Name: "off", Enabled: false}))

	client, closeSrv := testRelay(t, nil)
	defer closeSrv()

	cat := New(store, client, 0)
	assert.Equal(t, []string{"on"}, cat.EnabledStreamNames())
}
