package relay

import (
	"fmt"
	"os"
	"path/filepath"

	"relaycore/config"
)

// writeRelayConfig renders the minimal MediaMTX YAML config the Controller
// spawns the subprocess with: just the API listener and the RTSP/WebRTC/HLS
// transport ports. Stream paths are registered afterwards through the
// Relay API Client (C4), never baked into this static file, so the running
// Relay stays the single source of truth for which streams currently
// exist.
func writeRelayConfig(cfg config.RelayConfig, port int) (string, error) {
	dir := os.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("relaycore-mediamtx-%d.yml", port))

	rtspPort := cfg.RTSPPort
	if rtspPort == 0 {
		rtspPort = 8554
	}

	contents := fmt.Sprintf(`# generated by relaycore, do not edit
api: yes
apiAddress: %s:%d
rtspAddress: :%d
webrtcAddress: :8889
hlsAddress: :%s
logLevel: info
paths:
  all:
    source: publisher
`, cfg.Host, port, rtspPort, cfg.HTTPPort)

	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
