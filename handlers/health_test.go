package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/config"
	"relaycore/relay"
)

func newTestController(t *testing.T, ready bool) *relay.Controller {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return relay.NewController(config.RelayConfig{Host: u.Hostname(), ManagementPort: port})
}

func TestHealthCheckOKWhenRelayReady(t *testing.T) {
	h := NewHealthHandler(newTestController(t, true))
	r := gin.New()
	r.GET("/api/health", h.Check)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthCheckUnavailableWhenRelayDown(t *testing.T) {
	h := NewHealthHandler(newTestController(t, false))
	r := gin.New()
	r.GET("/api/health", h.Check)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
