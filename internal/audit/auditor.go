// Package audit classifies generated images as keep, review or reject and
// records the outcome in the audit store and a JSONL report.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/jo-hoe/tgforge/internal/backend/cache"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/quality"
	"golang.org/x/sync/errgroup"
)

// Record is one audited image.
type Record = database.AuditRecord

// Summary counts the outcome of a run.
type Summary struct {
	Total    int           `json:"total"`
	Keep     int           `json:"keep"`
	Review   int           `json:"review"`
	Reject   int           `json:"reject"`
	Errors   int           `json:"errors"`
	Cached   int           `json:"cached"`
	Duration time.Duration `json:"duration"`

	// Records holds the committed records of a run in path order.
	Records []*Record `json:"-"`
}

func (s *Summary) add(r *Record, cached, failed bool) {
	s.Total++
	switch r.Decision {
	case quality.Keep:
		s.Keep++
	case quality.Review:
		s.Review++
	case quality.Reject:
		s.Reject++
	}
	if cached {
		s.Cached++
	}
	if failed {
		s.Errors++
	}
	s.Records = append(s.Records, r)
}

// Options configure an Auditor. Zero values fall back to defaults.
type Options struct {
	Extensions []string
	Workers    int
	Thresholds *quality.Thresholds
	Analyzer   *quality.Analyzer
	Cache      cache.Cache
	Store      database.DatabaseService
	Report     *ReportWriter
	Router     *Router
	Now        func() time.Time
}

// Auditor analyses images and records decisions.
type Auditor struct {
	opts Options
}

// NewAuditor creates an auditor. Store, Report and Router are optional.
func NewAuditor(opts Options) *Auditor {
	if len(opts.Extensions) == 0 {
		opts.Extensions = quality.DefaultExtensions
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Analyzer == nil {
		opts.Analyzer = quality.NewAnalyzer()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopCache{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Thresholds == nil {
		defaults := quality.DefaultThresholds()
		opts.Thresholds = &defaults
	}
	return &Auditor{opts: opts}
}

// Collect returns the auditable files below root in sorted order.
func (a *Auditor) Collect(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if a.opts.Router != nil && a.opts.Router.Owns(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if quality.HasExtension(path, a.opts.Extensions) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run audits every matching file below root.
func (a *Auditor) Run(ctx context.Context, root string) (Summary, error) {
	start := time.Now()
	paths, err := a.Collect(root)
	if err != nil {
		return Summary{}, err
	}

	slog.Info("audit: starting run", "root", root, "files", len(paths), "workers", a.opts.Workers)

	type result struct {
		record *Record
		cached bool
		failed bool
	}
	results := make([]result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, cached, aerr := a.evaluate(gctx, path)
			results[i] = result{record: rec, cached: cached, failed: aerr != nil}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	// records are committed in path order so reports are reproducible
	var summary Summary
	for _, r := range results {
		if err := a.commit(r.record); err != nil {
			return summary, err
		}
		summary.add(r.record, r.cached, r.failed)
	}
	summary.Duration = time.Since(start)

	slog.Info("audit: run complete",
		"root", root,
		"total", summary.Total,
		"keep", summary.Keep,
		"review", summary.Review,
		"reject", summary.Reject,
		"errors", summary.Errors,
		"cached", summary.Cached,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, nil
}

// AuditFile audits a single file and commits the result immediately.
func (a *Auditor) AuditFile(ctx context.Context, path string) (*Record, error) {
	rec, _, aerr := a.evaluate(ctx, path)
	if err := a.commit(rec); err != nil {
		return rec, err
	}
	return rec, aerr
}

// AuditBytes analyses in-memory image data without touching the filesystem.
// Undecodable data is stored as a reject record and the decode error returned.
func (a *Auditor) AuditBytes(ctx context.Context, name string, data []byte) (*Record, error) {
	rec, _, aerr := a.evaluateData(ctx, name, data)
	if a.opts.Store != nil {
		if err := a.opts.Store.SaveAudit(rec); err != nil {
			return rec, fmt.Errorf("failed to store audit for %s: %w", name, err)
		}
	}
	return rec, aerr
}

// evaluate never returns a nil record: failures become reject records.
func (a *Auditor) evaluate(ctx context.Context, path string) (*Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return a.failure(path, nil, err), false, err
	}
	return a.evaluateData(ctx, path, data)
}

func (a *Auditor) evaluateData(ctx context.Context, name string, data []byte) (*Record, bool, error) {
	id := database.ContentID(data)
	key := cache.Key(id, a.opts.Analyzer)
	if m, ok := a.cached(ctx, key); ok {
		return a.record(name, id, m), true, nil
	}
	img, _, err := quality.Decode(data)
	if err != nil {
		return a.failure(name, data, err), false, err
	}
	m := a.opts.Analyzer.Analyze(img)
	if err := a.opts.Cache.Set(ctx, key, m); err != nil {
		slog.Warn("audit: failed to cache metrics", "path", name, "error", err)
	}
	return a.record(name, id, m), false, nil
}

func (a *Auditor) cached(ctx context.Context, key string) (quality.Metrics, bool) {
	m, ok, err := a.opts.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("audit: cache lookup failed", "key", key, "error", err)
		return quality.Metrics{}, false
	}
	return m, ok
}

func (a *Auditor) record(path, id string, m quality.Metrics) *Record {
	decision, reasons := quality.Classify(m, *a.opts.Thresholds)
	return &Record{
		ID:        id,
		Path:      path,
		Metrics:   m,
		Decision:  decision,
		Reasons:   reasons,
		AuditedAt: a.opts.Now().UTC(),
	}
}

func (a *Auditor) failure(path string, data []byte, err error) *Record {
	slog.Error("audit: failed to analyze image", "path", path, "error", err)
	id := database.ContentID(data)
	if data == nil {
		// unreadable files have no content; key them by path instead
		id = database.ContentID([]byte("unreadable:" + path))
	}
	return &Record{
		ID:        id,
		Path:      path,
		Decision:  quality.Reject,
		Reasons:   []string{fmt.Sprintf("decode failed: %v", err)},
		AuditedAt: a.opts.Now().UTC(),
	}
}

// commit routes, persists and reports one record. A moved file is recorded
// at its new location. Routing failures are logged but do not stop the run.
func (a *Auditor) commit(rec *Record) error {
	if a.opts.Router != nil {
		dest, err := a.opts.Router.Route(rec.Path, rec.Decision)
		switch {
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			slog.Error("audit: failed to route file", "path", rec.Path, "decision", rec.Decision, "error", err)
		case err == nil:
			slog.Debug("audit: routed file", "path", rec.Path, "destination", dest)
			if a.opts.Router.Moves() {
				rec.Path = dest
			}
		}
	}
	if a.opts.Store != nil {
		if err := a.opts.Store.SaveAudit(rec); err != nil {
			return fmt.Errorf("failed to store audit for %s: %w", rec.Path, err)
		}
	}
	if a.opts.Report != nil {
		if err := a.opts.Report.Write(rec); err != nil {
			return fmt.Errorf("failed to write report line for %s: %w", rec.Path, err)
		}
	}
	return nil
}

// SummaryFromRecords recomputes a summary from report records.
func SummaryFromRecords(records []*Record) Summary {
	var s Summary
	for _, r := range records {
		s.add(r, false, false)
	}
	return s
}
