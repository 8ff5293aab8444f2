package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"relaycore/models"
)

// StreamStore is the Config Store (C1): the persistent, on-disk catalog of
// streams, read-through for every other component (spec.md section 2/4).
// It owns exactly the file at path and is safe for concurrent use.
type StreamStore struct {
	mu      sync.RWMutex
	path    string
	streams map[string]models.Stream

	watcher   *fsnotify.Watcher
	onExternalChange func()
}

// Open loads path if it exists, creating an empty store file otherwise.
func Open(path string) (*StreamStore, error) {
	s := &StreamStore{path: path, streams: make(map[string]models.Stream)}
	if _, err := os.Stat(path); err == nil {
		if err := s.reload(); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("config store: create dir: %w", err)
		}
		if err := s.save(); err != nil {
			return nil, err
		}
	} else {
		return nil, err
	}
	return s, nil
}

// Watch starts an fsnotify watch on the backing file and invokes onChange
// (expected to call List/reconcile) whenever the file is edited out of
// band, e.g. by an administrator hand-editing it on a Raspberry Pi's SD
// card. Errors from the watcher are logged, never fatal, per spec.md
// section 7 policy that individual-component failures never crash the
// daemon.
func (s *StreamStore) Watch(onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config store: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("config store: watch dir: %w", err)
	}
	s.watcher = w
	s.onExternalChange = onChange

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					log.Error().Err(err).Msg("config store: reload after external change failed")
					continue
				}
				if s.onExternalChange != nil {
					s.onExternalChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config store: watcher error")
			}
		}
	}()
	return nil
}

func (s *StreamStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

const streamSectionPrefix = "stream."

func (s *StreamStore) reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("config store: open: %w", err)
	}
	defer f.Close()

	doc, err := parseINI(f)
	if err != nil {
		return fmt.Errorf("config store: parse: %w", err)
	}

	streams := make(map[string]models.Stream)
	for name, sec := range doc.sections {
		if !strings.HasPrefix(name, streamSectionPrefix) {
			continue
		}
		streamName := strings.TrimPrefix(name, streamSectionPrefix)
		if err := models.ValidateName(streamName); err != nil {
			return fmt.Errorf("config store: %w", err)
		}
		streams[streamName] = streamFromSection(streamName, sec)
	}

	s.mu.Lock()
	s.streams = streams
	s.mu.Unlock()
	return nil
}

func streamFromSection(name string, sec *iniSection) models.Stream {
	return models.Stream{
		Name:        name,
		URL:         sec.get("url", ""),
		ONVIFUser:   sec.get("onvif_user", ""),
		ONVIFPass:   sec.get("onvif_pass", ""),
		Enabled:     parseBool(sec.get("enabled", "true")),
		Backchannel: parseBool(sec.get("backchannel", "false")),
		Retention: models.Retention{
			SegmentSeconds: parseInt(sec.get("segment_seconds", "60"), 60),
			MaxAgeDays:     parseInt(sec.get("max_age_days", "14"), 14),
			MaxStorageMB:   parseInt64(sec.get("max_storage_mb", "0"), 0),
		},
		PTZEnabled: parseBool(sec.get("ptz_enabled", "false")),
		PTZLimits: models.PTZLimits{
			PanMin:  parseFloat(sec.get("ptz_pan_min", "-180")),
			PanMax:  parseFloat(sec.get("ptz_pan_max", "180")),
			TiltMin: parseFloat(sec.get("ptz_tilt_min", "-90")),
			TiltMax: parseFloat(sec.get("ptz_tilt_max", "90")),
			ZoomMin: parseFloat(sec.get("ptz_zoom_min", "0")),
			ZoomMax: parseFloat(sec.get("ptz_zoom_max", "1")),
		},
	}
}

func sectionFromStream(st models.Stream, doc *iniDocument) {
	sec := doc.section(streamSectionPrefix + st.Name)
	sec.set("url", st.URL)
	sec.set("onvif_user", st.ONVIFUser)
	sec.set("onvif_pass", st.ONVIFPass)
	sec.set("enabled", strconv.FormatBool(st.Enabled))
	sec.set("backchannel", strconv.FormatBool(st.Backchannel))
	sec.set("segment_seconds", strconv.Itoa(st.Retention.SegmentSeconds))
	sec.set("max_age_days", strconv.Itoa(st.Retention.MaxAgeDays))
	sec.set("max_storage_mb", strconv.FormatInt(st.Retention.MaxStorageMB, 10))
	sec.set("ptz_enabled", strconv.FormatBool(st.PTZEnabled))
	sec.set("ptz_pan_min", strconv.FormatFloat(st.PTZLimits.PanMin, 'f', -1, 64))
	sec.set("ptz_pan_max", strconv.FormatFloat(st.PTZLimits.PanMax, 'f', -1, 64))
	sec.set("ptz_tilt_min", strconv.FormatFloat(st.PTZLimits.TiltMin, 'f', -1, 64))
	sec.set("ptz_tilt_max", strconv.FormatFloat(st.PTZLimits.TiltMax, 'f', -1, 64))
	sec.set("ptz_zoom_min", strconv.FormatFloat(st.PTZLimits.ZoomMin, 'f', -1, 64))
	sec.set("ptz_zoom_max", strconv.FormatFloat(st.PTZLimits.ZoomMax, 'f', -1, 64))
}

func (s *StreamStore) save() error {
	doc := newIniDocument()
	s.mu.RLock()
	names := make([]string, 0, len(s.streams))
	for n := range s.streams {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		sectionFromStream(s.streams[n], doc)
	}
	s.mu.RUnlock()

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config store: create temp: %w", err)
	}
	if err := doc.write(f); err != nil {
		f.Close()
		return fmt.Errorf("config store: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// List returns every stream row, regardless of enabled/disabled.
func (s *StreamStore) List() []models.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one stream row by name.
func (s *StreamStore) Get(name string) (models.Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[name]
	return st, ok
}

// ErrConflict is returned by Add when the name already exists, satisfying
// the section 3 invariant that a name appears at most once.
var ErrConflict = fmt.Errorf("stream already exists")

// ErrNotFound is returned by Update/Delete for an unknown name.
var ErrNotFound = fmt.Errorf("stream not found")

// Add inserts a brand new stream row.
func (s *StreamStore) Add(st models.Stream) error {
	if err := models.ValidateName(st.Name); err != nil {
		return err
	}
	s.mu.Lock()
	if _, exists := s.streams[st.Name]; exists {
		s.mu.Unlock()
		return ErrConflict
	}
	s.streams[st.Name] = st
	s.mu.Unlock()
	return s.save()
}

// Update replaces an existing row in place. mutate receives the current
// row and returns the new one; it runs under the store's lock so
// concurrent updates on the same stream serialize (spec.md section 5).
func (s *StreamStore) Update(name string, mutate func(models.Stream) models.Stream) (models.Stream, error) {
	s.mu.Lock()
	cur, ok := s.streams[name]
	if !ok {
		s.mu.Unlock()
		return models.Stream{}, ErrNotFound
	}
	next := mutate(cur)
	next.Name = name
	s.streams[name] = next
	s.mu.Unlock()
	return next, s.save()
}

// Delete removes a row.
func (s *StreamStore) Delete(name string) error {
	s.mu.Lock()
	if _, ok := s.streams[name]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.streams, name)
	s.mu.Unlock()
	return s.save()
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64(v string, def int64) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
