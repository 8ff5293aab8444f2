package recording

import (
	"fmt"
	"time"

	"github.com/deepch/vdk/format/rtspv2"
)

// ProbeRTSP dials url directly (bypassing the Relay) and reports whether it
// carries at least one decodable codec, without consuming the stream
// further. It is used only on the fallback path of spec.md section 4.5
// ("fall back to recording directly from the original URL") to fail fast
// when the camera itself is unreachable, rather than handing ffmpeg a dead
// URL and waiting out its own connect timeout.
func ProbeRTSP(url string) error {
	client, err := rtspv2.Dial(rtspv2.RTSPClientOptions{
		URL:              url,
		DisableAudio:     true,
		DialTimeout:      3 * time.Second,
		ReadWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("recording: rtsp probe failed: %w", err)
	}
	defer client.Close()

	if len(client.CodecData) == 0 {
		return fmt.Errorf("recording: rtsp probe found no codecs at %s", url)
	}
	return nil
}
