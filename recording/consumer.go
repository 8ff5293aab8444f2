// Package recording implements the Recording Consumer (C7, spec.md section
// 4.5): one consumer per stream, always pulling from the Relay's normalized
// output, falling back to the original camera URL if the Relay cannot be
// reached.
package recording

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"relaycore/catalog"
	"relaycore/metrics"
	"relaycore/models"
	"relaycore/relay"
)

// SegmentStore is the narrow interface the Segment Catalog (C2) exposes to
// the Recording Consumer, kept here to avoid an import cycle between the
// recording and segments packages.
type SegmentStore interface {
	RecordSegment(ctx context.Context, seg models.Segment) error
}

const defaultSegmentSeconds = 60

// defaultMaxConsecutiveFailures mirrors health.DefaultConfig's
// StreamMaxConsecutiveFailures; used only if a Consumer is built with zero.
const defaultMaxConsecutiveFailures = 3

var segmentOpenPattern = regexp.MustCompile(`Opening '(.+\.mp4)' for writing`)

// Consumer owns one stream's muxer subprocess and its segment lifecycle.
type Consumer struct {
	name      string
	dataRoot  string

	cat         *catalog.Catalog
	relayClient *relay.Client
	segments    SegmentStore

	maxConsecutiveFailures int32

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	running bool

	prevSegmentPath string
	prevSegmentOpen time.Time
}

// NewConsumer builds a Consumer for stream name, writing segments under
// <dataRoot>/<name>/…. maxConsecutiveFailures gates the RECONNECTING->ERROR
// escalation on repeated muxer failure; zero falls back to
// defaultMaxConsecutiveFailures.
func NewConsumer(name, dataRoot string, cat *catalog.Catalog, relayClient *relay.Client, segments SegmentStore, maxConsecutiveFailures int32) *Consumer {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	return &Consumer{
		name:                   name,
		dataRoot:               dataRoot,
		cat:                    cat,
		relayClient:            relayClient,
		segments:               segments,
		maxConsecutiveFailures: maxConsecutiveFailures,
	}
}

// Start implements spec.md section 4.5: ensure the Relay has the stream
// ready, obtain the Relay-derived RTSP URL, and launch the muxer against it;
// on failure to reach the Relay, fall back to the original URL and mark the
// stream "not via relay".
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	st, err := c.cat.StreamConfig(c.name)
	if err != nil {
		return err
	}

	sourceURL := st.URL
	viaRelay := false

	if err := c.cat.EnsureReadyFor(ctx, c.name); err != nil {
		log.Warn().Str("stream", c.name).Err(err).Msg("recording: relay not ready, falling back to original url")
		if perr := ProbeRTSP(sourceURL); perr != nil {
			log.Error().Str("stream", c.name).Err(perr).Msg("recording: fallback url unreachable")
			return perr
		}
	} else if rtspURL, derr := c.relayClient.DeriveRTSPURL(ctx, c.name); derr == nil {
		sourceURL = rtspURL
		viaRelay = true
	} else {
		log.Warn().Str("stream", c.name).Err(derr).Msg("recording: could not derive relay url, falling back")
		if perr := ProbeRTSP(sourceURL); perr != nil {
			log.Error().Str("stream", c.name).Err(perr).Msg("recording: fallback url unreachable")
			return perr
		}
	}

	if rt, ok := c.cat.Runtime(c.name); ok {
		rt.SetNotViaRelay(!viaRelay)
	}
	if viaRelay {
		c.cat.BeginRecordingViaRelay(c.name, models.OriginalConfig{
			URL:       st.URL,
			ONVIFUser: st.ONVIFUser,
			ONVIFPass: st.ONVIFPass,
		})
	}

	dir := filepath.Join(c.dataRoot, c.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recording: create stream directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.run(runCtx, sourceURL, st.Retention.SegmentSeconds)
	return nil
}

func (c *Consumer) run(ctx context.Context, sourceURL string, segmentSeconds int) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cmd = nil
		c.cancel = nil
		c.mu.Unlock()
	}()

	args := buildMuxerArgs(sourceURL, filepath.Join(c.dataRoot, c.name), segmentSeconds)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Error().Str("stream", c.name).Err(err).Msg("recording: stderr pipe failed")
		return
	}

	if err := cmd.Start(); err != nil {
		log.Error().Str("stream", c.name).Err(err).Msg("recording: muxer start failed")
		return
	}

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	log.Info().Str("stream", c.name).Int("pid", cmd.Process.Pid).Msg("recording: muxer started")

	go c.watchSegments(bufio.NewReader(stderr))

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		log.Warn().Str("stream", c.name).Err(err).Msg("recording: muxer exited unexpectedly")
		c.markFailure()
	}

	c.finalizeLastSegment()
}

// markFailure drives a stream's recovery state machine (spec.md section 4.3,
// RUNNING->RECONNECTING->ERROR) on an unexpected muxer exit: it increments
// the runtime's reconnect counter and escalates to ERROR once
// maxConsecutiveFailures is reached, which is what unblocks the Unified
// Health Monitor's Phase 2 re-registration gate.
func (c *Consumer) markFailure() {
	rt, ok := c.cat.Runtime(c.name)
	if !ok {
		return
	}
	attempts := rt.IncReconnectAttempt()
	if attempts >= c.maxConsecutiveFailures {
		rt.SetState(models.StreamError)
		log.Error().Str("stream", c.name).Int32("attempts", attempts).Msg("recording: stream marked error after repeated muxer failures")
		return
	}
	rt.SetState(models.StreamReconnecting)
}

// buildMuxerArgs mirrors Spatial-NVR's segment-muxer invocation: stream copy
// (no transcode), strftime segment naming, fragmented-MP4 flags so partial
// segments remain playable if the process is killed mid-segment.
func buildMuxerArgs(sourceURL, outDir string, segmentSeconds int) []string {
	if segmentSeconds <= 0 {
		segmentSeconds = defaultSegmentSeconds
	}
	outputPattern := filepath.Join(outDir, "%Y/%m/%d/%s.mp4")

	args := []string{"-hide_banner", "-loglevel", "info",
		"-fflags", "+genpts+discardcorrupt",
		"-avoid_negative_ts", "make_zero",
	}
	if strings.HasPrefix(sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", sourceURL,
		"-c:v", "copy", "-c:a", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-segment_format", "mp4",
		"-segment_atclocktime", "1",
		"-strftime", "1",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-reset_timestamps", "1",
		outputPattern,
	)
	return args
}

// watchSegments scans the muxer's stderr for segment-open lines and closes
// out the previous segment against the Segment Catalog (spec.md section
// 4.5: "on every closed segment, the consumer appends a row").
func (c *Consumer) watchSegments(stderr *bufio.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		matches := segmentOpenPattern.FindStringSubmatch(line)
		if len(matches) < 2 {
			continue
		}
		newPath := matches[1]

		c.mu.Lock()
		prevPath := c.prevSegmentPath
		prevOpen := c.prevSegmentOpen
		c.prevSegmentPath = newPath
		c.prevSegmentOpen = time.Now().UTC()
		c.mu.Unlock()

		if prevPath != "" {
			c.closeSegment(prevPath, prevOpen, time.Now().UTC())
		}
	}
}

func (c *Consumer) finalizeLastSegment() {
	c.mu.Lock()
	path := c.prevSegmentPath
	opened := c.prevSegmentOpen
	c.prevSegmentPath = ""
	c.mu.Unlock()
	if path != "" {
		c.closeSegment(path, opened, time.Now().UTC())
	}
}

func (c *Consumer) closeSegment(path string, start, end time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		log.Warn().Str("stream", c.name).Str("path", path).Err(err).Msg("recording: segment file missing at close")
		return
	}

	seg := models.Segment{
		Stream:    c.name,
		Path:      path,
		StartTime: start,
		EndTime:   end,
		Size:      info.Size(),
	}
	if err := c.segments.RecordSegment(context.Background(), seg); err != nil {
		log.Error().Str("stream", c.name).Str("path", path).Err(err).Msg("recording: segment catalog append failed")
		return
	}
	metrics.SegmentsRecordedTotal.WithLabelValues(c.name).Inc()
	log.Debug().Str("stream", c.name).Str("path", path).Dur("duration", end.Sub(start)).Msg("recording: segment closed")
}

// Stop signals the subprocess, waits with a bounded grace period, and
// restores OriginalConfig if one was set (spec.md section 4.5).
func (c *Consumer) Stop(grace time.Duration) error {
	c.mu.Lock()
	cmd := c.cmd
	cancel := c.cancel
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if grace <= 0 {
		grace = 10 * time.Second
	}

	_ = cmd.Process.Signal(syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Str("stream", c.name).Msg("recording: stop grace period expired, killing muxer")
		_ = cmd.Process.Kill()
		<-done
	}
	if cancel != nil {
		cancel()
	}

	if orig := c.cat.EndRecordingViaRelay(c.name); orig != nil {
		log.Info().Str("stream", c.name).Msg("recording: restored original config on stop")
	}
	return nil
}

// SignalReconnect restarts the muxer against a freshly derived Relay URL.
// Used after a single-stream re-registration (spec.md section 4.5).
func (c *Consumer) SignalReconnect(ctx context.Context) error {
	if err := c.Stop(5 * time.Second); err != nil {
		return err
	}
	return c.Start(ctx)
}

// IsRunning reports whether the muxer subprocess is currently supervised.
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
