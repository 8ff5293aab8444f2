package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"relaycore/config"
)

// Error kinds returned by the Relay API Client (spec.md section 4.2 table).
// These are sentinel wrapper types, not string matches, so callers can use
// errors.As/Is.
type NotReadyError struct{ Cause error }

func (e *NotReadyError) Error() string { return fmt.Sprintf("relay not ready: %v", e.Cause) }
func (e *NotReadyError) Unwrap() error { return e.Cause }

type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("relay: stream %q not found", e.Name) }

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("relay: http error (status %d): %s", e.Status, e.Body)
}

// Client is the thin, idempotent Relay API Client (C4, spec.md section
// 4.2). All calls use a short connect timeout and a per-operation request
// timeout as specified there.
type Client struct {
	cfg        config.RelayConfig
	controller *Controller
	httpClient *http.Client
	sdpClient  *http.Client // longer timeout, used for offer/answer
}

// NewClient builds a Client bound to controller's management port.
func NewClient(cfg config.RelayConfig, controller *Controller) *Client {
	return &Client{
		cfg:        cfg,
		controller: controller,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		sdpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) baseManagementURL(path string) string {
	return fmt.Sprintf("http://%s:%d%s", c.cfg.Host, c.controller.Port(), path)
}

// Register upserts a stream at the Relay; success is idempotent (spec.md
// section 4.2).
func (c *Client) Register(ctx context.Context, name, sourceURL, user, pass string, backchannel bool) error {
	if !c.controller.IsReady(ctx) {
		return &NotReadyError{Cause: fmt.Errorf("relay management API unreachable")}
	}

	pathConfig := map[string]interface{}{
		"source":                     sourceURL,
		"sourceOnDemand":             false,
		"sourceProtocol":             "tcp",
		"rtspTransport":              "tcp",
	}
	if user != "" {
		pathConfig["sourceAnyPortEnable"] = false
	}

	body, err := json.Marshal(pathConfig)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseManagementURL(fmt.Sprintf("/v3/config/paths/replace/%s", name)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotReadyError{Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// MediaMTX returns 400 when the path exists with a conflicting
		// config. The request already used the replace endpoint, so no
		// retry is made - a conflict here means something else is wrong
		// and is reported as-is.
		b, _ := io.ReadAll(resp.Body)
		return &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
	default:
		b, _ := io.ReadAll(resp.Body)
		return &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
	}
}

// Unregister removes a stream; success if the Relay reports it removed or
// already absent (spec.md section 4.2).
func (c *Client) Unregister(ctx context.Context, name string) error {
	if !c.controller.IsReady(ctx) {
		return &NotReadyError{Cause: fmt.Errorf("relay management API unreachable")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseManagementURL(fmt.Sprintf("/v3/config/paths/delete/%s", name)), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotReadyError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
}

// Exists returns true iff the Relay currently lists the stream.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	if !c.controller.IsReady(ctx) {
		return false, &NotReadyError{Cause: fmt.Errorf("relay management API unreachable")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseManagementURL("/v3/paths/list"), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &NotReadyError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return false, &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
	}

	var listing struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return false, err
	}
	for _, item := range listing.Items {
		if item.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// DeriveRTSPURL returns rtsp://<host>:<port>/<name> if the stream exists
// (spec.md section 3/4.2), sourcing the port from RelayConfig.RTSPPort
// rather than hardcoding MediaMTX's 8554 default.
func (c *Client) DeriveRTSPURL(ctx context.Context, name string) (string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &NotFoundError{Name: name}
	}
	port := c.cfg.RTSPPort
	if port == 0 {
		port = 8554
	}
	return fmt.Sprintf("rtsp://%s:%d/%s", c.cfg.Host, port, name), nil
}

// DeriveWebRTCURL mirrors DeriveRTSPURL for the WebRTC output.
func (c *Client) DeriveWebRTCURL(ctx context.Context, name string) (string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &NotFoundError{Name: name}
	}
	return fmt.Sprintf("http://%s:%s/%s/whep", c.cfg.PublicHost, c.cfg.HTTPPort, name), nil
}

// ProxyWebRTCOffer forwards an SDP offer to the Relay and returns the SDP
// answer (spec.md section 4.2, used by the external HTTP layer only —
// the core never decodes the SDP itself).
func (c *Client) ProxyWebRTCOffer(ctx context.Context, name, sdp string) (string, error) {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &NotFoundError{Name: name}
	}

	correlationID := uuid.NewString()
	url := fmt.Sprintf("http://%s:%s/%s/whep", c.cfg.PublicHost, c.cfg.HTTPPort, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(sdp)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := c.sdpClient.Do(req)
	if err != nil {
		return "", &NotReadyError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Str("stream", name).Str("correlation_id", correlationID).
			Int("status", resp.StatusCode).Msg("relay: webrtc offer proxy failed")
		return "", &HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

// ProxyWebRTCICE forwards a trickled ICE candidate (JSON) to the Relay.
func (c *Client) ProxyWebRTCICE(ctx context.Context, name string, candidate json.RawMessage) error {
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return &NotFoundError{Name: name}
	}

	url := fmt.Sprintf("http://%s:%s/%s/whep/ice", c.cfg.PublicHost, c.cfg.HTTPPort, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(candidate))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotReadyError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &HTTPStatusError{Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}
