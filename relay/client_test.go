package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/config"
)

// testRelay stands in for the Relay management API the teacher's
// services/mediamtx_service.go talked to over HTTP.
func testRelay(t *testing.T, known map[string]bool) (*Client, func()) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		type item struct {
			Name string `json:"name"`
		}
		var items []item
		for name, ok := range known {
			if ok {
				items = append(items, item{Name: name})
			}
		}
		json.NewEncoder(w).Encode(struct {
			Items []item `json:"items"`
		}{Items: items})
	})
	mux.HandleFunc("/v3/config/paths/replace/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/v3/config/paths/replace/"):]
		known[name] = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/config/paths/delete/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/v3/config/paths/delete/"):]
		if _, ok := known[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(known, name)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.RelayConfig{Host: u.Hostname(), ManagementPort: port, PublicHost: u.Hostname(), HTTPPort: "8888"}
	controller := NewController(cfg)
	client := NewClient(cfg, controller)
	return client, srv.Close
}

func TestRegisterThenExists(t *testing.T) {
	client, closeSrv := testRelay(t, map[string]bool{})
	defer closeSrv()

	ctx := context.Background()
	require.NoError(t, client.Register(ctx, "front-door", "rtsp://cam/front", "", "", false))

	exists, err := client.Exists(ctx, "front-door")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeriveRTSPURLNotFound(t *testing.T) {
	client, closeSrv := testRelay(t, map[string]bool{})
	defer closeSrv()

	_, err := client.DeriveRTSPURL(context.Background(), "missing")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeriveRTSPURLFormat(t *testing.T) {
	client, closeSrv := testRelay(t, map[string]bool{"front-door": true})
	defer closeSrv()

	url, err := client.DeriveRTSPURL(context.Background(), "front-door")
	require.NoError(t, err)
	assert.Contains(t, url, "rtsp://")
	assert.Contains(t, url, ":8554/")
	assert.Contains(t, url, "/front-door")
}

func TestDeriveRTSPURLUsesConfiguredPort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		type item struct {
			Name string `json:"name"`
		}
		json.NewEncoder(w).Encode(struct {
			Items []item `json:"items"`
		}{Items: []item{{Name: "front-door"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.RelayConfig{Host: u.Hostname(), ManagementPort: port, RTSPPort: 9554}
	client := NewClient(cfg, NewController(cfg))

	rtspURL, err := client.DeriveRTSPURL(context.Background(), "front-door")
	require.NoError(t, err)
	assert.Contains(t, rtspURL, ":9554/front-door")
}

func TestUnregisterIdempotentOnMissing(t *testing.T) {
	client, closeSrv := testRelay(t, map[string]bool{})
	defer closeSrv()

	assert.NoError(t, client.Unregister(context.Background(), "never-registered"))
}

func TestUnregisterRemovesRegistered(t *testing.T) {
	client, closeSrv := testRelay(t, map[string]bool{"front-door": true})
	defer closeSrv()

	require.NoError(t, client.Unregister(context.Background(), "front-door"))

	exists, err := client.Exists(context.Background(), "front-door")
	require.NoError(t, err)
	assert.False(t, exists)
}
