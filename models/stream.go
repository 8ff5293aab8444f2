package models

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StreamState is a stream's position in the recovery state machine described
// in spec.md section 4.3.
type StreamState string

const (
	StreamInitializing  StreamState = "INITIALIZING"
	StreamRunning       StreamState = "RUNNING"
	StreamReconnecting  StreamState = "RECONNECTING"
	StreamError         StreamState = "ERROR"
	StreamStopped       StreamState = "STOPPED"
)

// Retention bundles the per-stream eviction policy.
type Retention struct {
	SegmentSeconds int    `ini:"segment_seconds"`
	MaxAgeDays     int    `ini:"max_age_days"`
	MaxStorageMB   int64  `ini:"max_storage_mb"` // 0 means unbounded
}

// PTZLimits bounds pan/tilt/zoom travel when PTZEnabled is set. The PTZ SOAP
// client itself is an external collaborator (spec.md section 1); the core
// only carries the limits so the Stream Catalog can validate requests.
type PTZLimits struct {
	PanMin, PanMax   float64
	TiltMin, TiltMax float64
	ZoomMin, ZoomMax float64
}

// Stream is the persisted, administrator-authored description of a camera.
// It is the Config Store's row shape (spec.md section 3) and is mirrored,
// never owned, by the Stream Catalog.
type Stream struct {
	Name        string
	URL         string
	ONVIFUser   string
	ONVIFPass   string
	Enabled     bool
	Backchannel bool
	Retention   Retention
	PTZEnabled  bool
	PTZLimits   PTZLimits
}

// ValidateName enforces the 1-63 printable, no-slash naming rule from
// spec.md section 3.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > 63 {
		return fmt.Errorf("stream name must be 1-63 characters, got %d", len(name))
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("stream name %q must not contain '/'", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("stream name %q contains a non-printable character", name)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without racing the
// Config Store's internal map.
func (s Stream) Clone() Stream {
	return s
}

// RelayRegistration is cache state describing whether the Relay currently
// knows about a stream (spec.md section 3). The Relay itself is the
// authoritative source; this struct only remembers the last answer so the
// Stream Catalog does not need to round-trip the Relay API Client on every
// read.
type RelayRegistration struct {
	Registered bool
	RTSPURL    string
	WebRTCURL  string
}

// OriginalConfig preserves the credentials a downstream consumer
// temporarily overwrote so they can be restored byte-for-byte on stop
// (spec.md section 3, invariant 4 of section 8).
type OriginalConfig struct {
	URL       string
	ONVIFUser string
	ONVIFPass string
	savedAt   time.Time
}

// StreamRuntime is the Stream Catalog's exclusively-owned per-stream runtime
// record: StreamState, RelayRegistration and OriginalConfig live here,
// protected by a per-stream lock for composite reads, with two counters kept
// as atomics so the Unified Health Monitor can read them without taking the
// lock (spec.md section 5).
type StreamRuntime struct {
	mu sync.RWMutex

	name  string
	state StreamState

	reconnectAttempts int32
	lastReconnectUnix int64 // unix seconds, atomic

	registration RelayRegistration
	original     *OriginalConfig
	recordingViaRelay bool
	notViaRelay       bool // fallback-to-original-URL flag (spec.md section 4.5)
	lastGoodUnix      int64 // last instant this stream was observed RUNNING
}

// NewStreamRuntime creates a runtime record in INITIALIZING state.
func NewStreamRuntime(name string) *StreamRuntime {
	return &StreamRuntime{name: name, state: StreamInitializing}
}

func (r *StreamRuntime) Name() string { return r.name }

// Snapshot returns a consistent snapshot of the composite runtime state,
// reading it under the per-stream lock as required by spec.md section 5.
func (r *StreamRuntime) Snapshot() (state StreamState, reconnectAttempts int32, lastReconnect time.Time, reg RelayRegistration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state = r.state
	reconnectAttempts = atomic.LoadInt32(&r.reconnectAttempts)
	last := atomic.LoadInt64(&r.lastReconnectUnix)
	if last != 0 {
		lastReconnect = time.Unix(last, 0).UTC()
	}
	reg = r.registration
	return
}

func (r *StreamRuntime) SetState(s StreamState) {
	r.mu.Lock()
	r.state = s
	if s == StreamRunning {
		atomic.StoreInt64(&r.lastGoodUnix, time.Now().UTC().Unix())
	}
	r.mu.Unlock()
}

func (r *StreamRuntime) State() StreamState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastKnownGood answers spec.md section 9's open question: the last instant
// this stream was observed RUNNING, zero time if never observed.
func (r *StreamRuntime) LastKnownGood() time.Time {
	u := atomic.LoadInt64(&r.lastGoodUnix)
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

// IncReconnectAttempt is called by the Recording Consumer on every
// unexpected muxer exit; a failed re-registration leaves the counter as it
// is. It is an atomic increment: readers never need the lock.
func (r *StreamRuntime) IncReconnectAttempt() int32 {
	return atomic.AddInt32(&r.reconnectAttempts, 1)
}

func (r *StreamRuntime) ReconnectAttempts() int32 {
	return atomic.LoadInt32(&r.reconnectAttempts)
}

func (r *StreamRuntime) ResetReconnect() {
	atomic.StoreInt32(&r.reconnectAttempts, 0)
	atomic.StoreInt64(&r.lastReconnectUnix, time.Now().UTC().Unix())
}

func (r *StreamRuntime) LastReconnectTime() time.Time {
	u := atomic.LoadInt64(&r.lastReconnectUnix)
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

func (r *StreamRuntime) SetRegistration(reg RelayRegistration) {
	r.mu.Lock()
	r.registration = reg
	r.mu.Unlock()
}

func (r *StreamRuntime) Registration() RelayRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registration
}

// BeginRecordingViaRelay stamps the "recording via relay" flag and stashes
// OriginalConfig atomically, as required by spec.md section 4.3.
func (r *StreamRuntime) BeginRecordingViaRelay(original OriginalConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	original.savedAt = time.Now().UTC()
	r.original = &original
	r.recordingViaRelay = true
	r.notViaRelay = false
}

// EndRecordingViaRelay clears the flag and returns the OriginalConfig to
// restore, satisfying invariant 4 of spec.md section 8 (byte-for-byte
// restore).
func (r *StreamRuntime) EndRecordingViaRelay() *OriginalConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	orig := r.original
	r.original = nil
	r.recordingViaRelay = false
	return orig
}

func (r *StreamRuntime) SetNotViaRelay(v bool) {
	r.mu.Lock()
	r.notViaRelay = v
	r.mu.Unlock()
}

func (r *StreamRuntime) NotViaRelay() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notViaRelay
}

func (r *StreamRuntime) RecordingViaRelay() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordingViaRelay
}
