// Package incoming implements the Incoming Monitor (spec §4.C): it polls
// the spool directory and emits exactly one event per file once its size
// has stabilized across two consecutive polls.
package incoming

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/buulam/clapshot/internal/logger"
)

// Event is emitted exactly once per stable file, carrying its absolute
// path and the submitter user id inferred from the spool layout.
type Event struct {
	Path   string
	UserId string
}

type observation struct {
	size     int64
	mtime    time.Time
	firstAt  time.Time
	emitted  bool
}

// Monitor polls <dataDir>/incoming for stable regular files.
type Monitor struct {
	incomingDir   string
	pollInterval  time.Duration
	resubmitDelay time.Duration

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	seen  map[string]observation
}

// New creates a monitor over <dataDir>/incoming. pollInterval controls
// how often the spool is re-scanned; resubmitDelay is the minimum time a
// file's size must hold steady across two polls before it is emitted.
func New(dataDir string, pollInterval, resubmitDelay time.Duration) *Monitor {
	return &Monitor{
		incomingDir:   filepath.Join(dataDir, "incoming"),
		pollInterval:  pollInterval,
		resubmitDelay: resubmitDelay,
		events:        make(chan Event, 64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		seen:          make(map[string]observation),
	}
}

// Events returns the channel stable files are emitted on.
func (m *Monitor) Events() <-chan Event { return m.events }

// Stop aborts the poll loop on its next wake and waits for Run to
// return. The Events channel is not closed.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Run polls until Stop is called. fsnotify is used only to wake the poll
// loop early on directory writes; the stability decision itself is
// always a re-stat against the last poll, never a bare fsnotify event.
func (m *Monitor) Run() {
	defer close(m.done)

	if err := os.MkdirAll(m.incomingDir, 0o755); err != nil {
		logger.Error("incoming: mkdir %s: %v", m.incomingDir, err)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	var wake <-chan fsnotify.Event
	if err != nil {
		logger.Warn("incoming: fsnotify unavailable, falling back to plain polling: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(m.incomingDir); err != nil {
			logger.Warn("incoming: watch %s: %v", m.incomingDir, err)
		} else {
			wake = watcher.Events
		}
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.poll()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll()
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	now := time.Now()
	present := make(map[string]bool)

	err := filepath.WalkDir(m.incomingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // transient stat races are not fatal to the scan
		}
		if path == m.incomingDir {
			return nil
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		present[path] = true
		m.observe(path, info.Size(), info.ModTime(), now)
		return nil
	})
	if err != nil {
		logger.Error("incoming: walk %s: %v", m.incomingDir, err)
		return
	}

	m.mu.Lock()
	for path := range m.seen {
		if !present[path] {
			delete(m.seen, path)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) observe(path string, size int64, mtime, now time.Time) {
	m.mu.Lock()
	prev, known := m.seen[path]
	switch {
	case !known:
		m.seen[path] = observation{size: size, mtime: mtime, firstAt: now}
		m.mu.Unlock()
		return
	case prev.emitted:
		m.mu.Unlock()
		return
	case prev.size != size || !prev.mtime.Equal(mtime):
		// Still changing: reset the stability window.
		m.seen[path] = observation{size: size, mtime: mtime, firstAt: now}
		m.mu.Unlock()
		return
	case now.Sub(prev.firstAt) < m.resubmitDelay:
		m.mu.Unlock()
		return
	}

	if !canOpenForRead(path) {
		m.mu.Unlock()
		return
	}

	prev.emitted = true
	m.seen[path] = prev
	m.mu.Unlock()

	userId := inferOwner(m.incomingDir, path)
	select {
	case m.events <- Event{Path: path, UserId: userId}:
	case <-m.stop:
	}
}

func canOpenForRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// inferOwner walks the path relative to the spool root looking for a
// "<user>/" parent directory, defaulting to "anonymous" when the file
// sits directly in incoming/.
func inferOwner(incomingDir, path string) string {
	rel, err := filepath.Rel(incomingDir, path)
	if err != nil {
		return "anonymous"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "anonymous"
}
