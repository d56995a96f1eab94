// Package monitor watches a generation output folder and audits new images
// as soon as they settle on disk.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/quality"
)

const defaultDebounce = 500 * time.Millisecond

// FileAuditor is the part of audit.Auditor the monitor needs.
type FileAuditor interface {
	Collect(root string) ([]string, error)
	AuditFile(ctx context.Context, path string) (*audit.Record, error)
}

// Stats tracks monitor activity.
type Stats struct {
	Processed int
	Keep      int
	Review    int
	Reject    int
	Errors    int
	LastPath  string
	LastEvent time.Time
}

// Options configure a Monitor.
type Options struct {
	Dir             string
	Extensions      []string
	Debounce        time.Duration
	ProcessExisting bool
	// OnRecord is called after each audited file, from the event loop goroutine.
	OnRecord func(*audit.Record)
}

// Monitor audits images written into a directory.
type Monitor struct {
	mu       sync.Mutex
	opts     Options
	auditor  FileAuditor
	watcher  *fsnotify.Watcher
	pending  map[string]time.Time
	stats    Stats
	running  bool
	closed   bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	tickerDt time.Duration
}

// New creates a monitor for opts.Dir. The directory is created if missing.
func New(opts Options, auditor FileAuditor) (*Monitor, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("monitor directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = quality.DefaultExtensions
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", opts.Dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	tick := opts.Debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return &Monitor{
		opts:     opts,
		auditor:  auditor,
		watcher:  w,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		tickerDt: tick,
	}, nil
}

// ErrClosed is returned by Start once the monitor was stopped or failed to
// start. A Monitor watches at most once; create a new one to watch again.
var ErrClosed = errors.New("monitor is closed")

// Start begins watching. It does not block.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	if err := m.watcher.Add(m.opts.Dir); err != nil {
		m.abort()
		return fmt.Errorf("failed to watch %s: %w", m.opts.Dir, err)
	}
	slog.Info("monitor: watching directory", "dir", m.opts.Dir, "debounce", m.opts.Debounce)

	if m.opts.ProcessExisting {
		paths, err := m.auditor.Collect(m.opts.Dir)
		if err != nil {
			m.abort()
			return err
		}
		now := time.Now()
		m.mu.Lock()
		for _, p := range paths {
			// only top-level files; subfolders are not watched
			if filepath.Dir(p) == filepath.Clean(m.opts.Dir) {
				m.pending[p] = now.Add(-m.opts.Debounce)
			}
		}
		m.mu.Unlock()
	}

	go m.run(ctx)
	return nil
}

// abort releases the watcher after a failed Start.
func (m *Monitor) abort() {
	m.mu.Lock()
	m.running = false
	m.closed = true
	m.mu.Unlock()
	m.closeWatcher()
}

func (m *Monitor) closeWatcher() {
	if err := m.watcher.Close(); err != nil {
		slog.Error("monitor: error closing watcher", "error", err)
	}
}

// Stop stops the event loop, waits for it to exit and releases the watcher.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wasRunning := m.running
	m.running = false
	m.closed = true
	m.mu.Unlock()

	if wasRunning {
		close(m.stopCh)
		<-m.doneCh
	}
	m.closeWatcher()
	slog.Info("monitor: stopped")
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.tickerDt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("monitor: context cancelled")
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("monitor: watcher error", "error", err)
			m.mu.Lock()
			m.stats.Errors++
			m.mu.Unlock()
		case <-ticker.C:
			m.processSettled(ctx)
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			m.mu.Lock()
			delete(m.pending, event.Name)
			m.mu.Unlock()
		}
		return
	}
	if !quality.HasExtension(event.Name, m.opts.Extensions) {
		return
	}

	slog.Debug("monitor: file event", "path", event.Name, "op", event.Op.String())
	m.mu.Lock()
	m.pending[event.Name] = time.Now()
	m.stats.LastEvent = time.Now()
	m.mu.Unlock()
}

// processSettled audits files that saw no events for the debounce interval.
func (m *Monitor) processSettled(ctx context.Context) {
	now := time.Now()
	var ready []string
	m.mu.Lock()
	for path, last := range m.pending {
		if now.Sub(last) >= m.opts.Debounce {
			ready = append(ready, path)
			delete(m.pending, path)
		}
	}
	m.mu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			// removed or moved away before it settled
			continue
		}
		rec, err := m.auditor.AuditFile(ctx, path)

		m.mu.Lock()
		m.stats.Processed++
		m.stats.LastPath = path
		if err != nil {
			m.stats.Errors++
		}
		if rec != nil {
			switch rec.Decision {
			case quality.Keep:
				m.stats.Keep++
			case quality.Review:
				m.stats.Review++
			case quality.Reject:
				m.stats.Reject++
			}
		}
		m.mu.Unlock()

		if rec != nil {
			slog.Info("monitor: audited file", "path", path, "decision", rec.Decision, "reasons", rec.Reasons)
			if m.opts.OnRecord != nil {
				m.opts.OnRecord(rec)
			}
		}
	}
}
