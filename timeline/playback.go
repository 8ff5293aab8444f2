package timeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"relaycore/models"
)

const playbackChunkSize = 32 * 1024

// PlayContinuous implements spec.md section 4.6 continuous playback:
// locate the first segment whose end > start, then stream the concat of
// that segment and every subsequent one (up to 24h from start) as a single
// fragmented MP4, produced by an external muxer reading a temporary
// concat playlist. Writes to w in fixed 32 KiB chunks; if w stops
// accepting writes (the HTTP client disappeared), the subprocess is
// terminated and the playlist removed.
//
// Precision caveat (spec.md section 4.6): seeking is at segment
// granularity — starting inside a segment plays from that segment's true
// start, to keep concatenation lossless.
func (e *Engine) PlayContinuous(ctx context.Context, w io.Writer, stream string, start time.Time) error {
	windowEnd := start.Add(maxContinuousWindow)
	rows, err := e.segCatalog.List(ctx, stream, start, windowEnd, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("timeline: no segments for %q at or after %s", stream, start)
	}

	playlistPath, err := writeConcatPlaylist(e.scratchDir, rows)
	if err != nil {
		return err
	}
	defer os.Remove(playlistPath)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", playlistPath,
		"-c", "copy",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4", "pipe:1",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("timeline: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("timeline: muxer start: %w", err)
	}

	copyErr := copyInChunks(w, stdout)
	if copyErr != nil {
		log.Warn().Str("stream", stream).Err(copyErr).Msg("timeline: playback write failed, terminating muxer")
		cancel()
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	return copyErr
}

// copyInChunks writes r to w in fixed chunks, honoring backpressure from
// w's underlying connection (spec.md section 4.6 transport backpressure).
func copyInChunks(w io.Writer, r io.Reader) error {
	buf := make([]byte, playbackChunkSize)
	reader := bufio.NewReaderSize(r, playbackChunkSize)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher, ok := w.(interface{ Flush() }); ok {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// writeConcatPlaylist writes an ffmpeg concat-demuxer playlist listing
// each segment's path in order, returning its path. Deleted by the caller
// after the pipe closes.
func writeConcatPlaylist(scratchDir string, rows []models.Segment) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("timeline: create scratch dir: %w", err)
	}
	path := filepath.Join(scratchDir, fmt.Sprintf("playlist-%s.txt", uuid.NewString()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("timeline: create playlist: %w", err)
	}
	defer f.Close()

	for _, row := range rows {
		if _, err := fmt.Fprintf(f, "file '%s'\n", row.Path); err != nil {
			return "", fmt.Errorf("timeline: write playlist entry: %w", err)
		}
	}
	return path, nil
}
