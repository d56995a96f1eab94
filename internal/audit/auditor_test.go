package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/jo-hoe/tgforge/internal/testutil"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC) }

// countingCache records hits so tests can verify cache usage.
type countingCache struct {
	entries map[string]quality.Metrics
	hits    int
}

func (c *countingCache) Get(_ context.Context, id string) (quality.Metrics, bool, error) {
	m, ok := c.entries[id]
	if ok {
		c.hits++
	}
	return m, ok, nil
}

func (c *countingCache) Set(_ context.Context, id string, m quality.Metrics) error {
	c.entries[id] = m
	return nil
}

func (c *countingCache) Close() error { return nil }

func newTestStore(t *testing.T) database.DatabaseService {
	t.Helper()
	ds, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

// writeFixtures creates one keep, one reject and one undecodable file.
func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	testutil.WritePNG(t, dir, "good.png", testutil.Blocks(640, 640, 16))
	testutil.WritePNG(t, dir, "nested/flat.png", testutil.Uniform(640, 640, 128))
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestAuditor_Run(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	store := newTestStore(t)
	var report bytes.Buffer

	a := NewAuditor(Options{
		Store:   store,
		Report:  NewReportWriter(&report),
		Workers: 2,
		Now:     fixedNow,
	})
	summary, err := a.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Total != 3 || summary.Keep != 1 || summary.Reject != 2 || summary.Errors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	records, err := ReadReport(&report)
	if err != nil {
		t.Fatalf("ReadReport error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 report lines, got %d", len(records))
	}
	// report follows sorted path order
	wantOrder := []string{"broken.png", "good.png", filepath.Join("nested", "flat.png")}
	for i, rec := range records {
		rel, _ := filepath.Rel(dir, rec.Path)
		if rel != wantOrder[i] {
			t.Errorf("line %d path = %s, want %s", i, rel, wantOrder[i])
		}
		if !rec.AuditedAt.Equal(fixedNow()) {
			t.Errorf("line %d audited_at = %v", i, rec.AuditedAt)
		}
	}
	if records[0].Decision != quality.Reject || !strings.HasPrefix(records[0].Reasons[0], "decode failed") {
		t.Errorf("broken file record = %+v", records[0])
	}
	if records[1].Decision != quality.Keep || records[1].Width != 640 {
		t.Errorf("good file record = %+v", records[1])
	}

	stored, err := store.ListAudits("")
	if err != nil {
		t.Fatalf("ListAudits error: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(stored))
	}
}

func TestAuditor_UsesCache(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePNG(t, dir, "good.png", testutil.Blocks(640, 640, 16))
	c := &countingCache{entries: map[string]quality.Metrics{}}

	a := NewAuditor(Options{Cache: c})
	for i := 0; i < 2; i++ {
		if _, err := a.Run(context.Background(), dir); err != nil {
			t.Fatalf("Run #%d error: %v", i, err)
		}
	}
	if c.hits != 1 {
		t.Fatalf("expected 1 cache hit on second run, got %d", c.hits)
	}
}

func TestAuditor_Routing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "sorted")
	writeFixtures(t, dir)

	a := NewAuditor(Options{Router: NewRouter(dest, true)})
	if _, err := a.Run(context.Background(), dir); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	for _, p := range []string{"keep/good.png", "reject/flat.png", "reject/broken.png"} {
		if _, err := os.Stat(filepath.Join(dest, p)); err != nil {
			t.Errorf("expected routed file %s: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "good.png")); !os.IsNotExist(err) {
		t.Errorf("expected source to be moved, stat err = %v", err)
	}

	// a second run must not pick up routed files
	summary, err := a.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if summary.Total != 0 {
		t.Fatalf("expected routed folders to be skipped, got %+v", summary)
	}
}

func TestAuditor_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewAuditor(Options{}).Run(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAuditor_AuditBytes(t *testing.T) {
	store := newTestStore(t)
	a := NewAuditor(Options{Store: store})

	rec, err := a.AuditBytes(context.Background(), "upload.png", testutil.EncodePNG(t, testutil.Blocks(640, 640, 16)))
	if err != nil {
		t.Fatalf("AuditBytes error: %v", err)
	}
	if rec.Decision != quality.Keep {
		t.Fatalf("decision = %s, reasons %v", rec.Decision, rec.Reasons)
	}
	if _, err := store.GetAudit(rec.ID); err != nil {
		t.Fatalf("expected stored record: %v", err)
	}

	bad, err := a.AuditBytes(context.Background(), "bad.png", []byte("junk"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	stored, err := store.GetAudit(bad.ID)
	if err != nil || stored.Decision != quality.Reject {
		t.Fatalf("undecodable upload should be stored as reject: %+v, %v", stored, err)
	}
}

func TestAuditor_AuditFileMissing(t *testing.T) {
	rec, err := NewAuditor(Options{}).AuditFile(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if rec == nil || rec.Decision != quality.Reject {
		t.Fatalf("expected reject record, got %+v", rec)
	}
}

func TestAuditor_MovedFilesAreRecordedAtDestination(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "sorted")
	writeFixtures(t, dir)
	store := newTestStore(t)
	var report bytes.Buffer

	a := NewAuditor(Options{Store: store, Report: NewReportWriter(&report), Router: NewRouter(dest, true)})
	summary, err := a.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(summary.Records) != 3 {
		t.Fatalf("expected 3 records in summary, got %d", len(summary.Records))
	}

	kept, err := store.ListAudits(quality.Keep)
	if err != nil {
		t.Fatalf("ListAudits error: %v", err)
	}
	want := filepath.Join(dest, "keep", "good.png")
	if len(kept) != 1 || kept[0].Path != want {
		t.Fatalf("stored keep records = %+v, want path %s", kept, want)
	}
	if _, err := os.Stat(kept[0].Path); err != nil {
		t.Fatalf("stored path does not exist: %v", err)
	}

	records, err := ReadReport(&report)
	if err != nil {
		t.Fatalf("ReadReport error: %v", err)
	}
	for _, rec := range records {
		if _, err := os.Stat(rec.Path); err != nil {
			t.Errorf("report line points at missing file %s", rec.Path)
		}
	}
}

func TestAuditor_CopiedFilesKeepSourcePath(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePNG(t, dir, "good.png", testutil.Blocks(640, 640, 16))
	store := newTestStore(t)

	a := NewAuditor(Options{Store: store, Router: NewRouter(filepath.Join(dir, "sorted"), false)})
	for i := 0; i < 2; i++ {
		if _, err := a.Run(context.Background(), dir); err != nil {
			t.Fatalf("Run #%d error: %v", i, err)
		}
	}
	kept, err := store.ListAudits(quality.Keep)
	if err != nil {
		t.Fatalf("ListAudits error: %v", err)
	}
	if len(kept) != 1 || kept[0].Path != filepath.Join(dir, "good.png") {
		t.Fatalf("stored keep records = %+v", kept)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "sorted", "keep"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("re-audit duplicated routed copies: %d files", len(entries))
	}
}

func TestAuditor_CacheKeyFollowsAnalyzerSettings(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePNG(t, dir, "good.png", testutil.Blocks(640, 640, 16))
	c := &countingCache{entries: map[string]quality.Metrics{}}

	if _, err := NewAuditor(Options{Cache: c}).Run(context.Background(), dir); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	coarse := &quality.Analyzer{MaxAnalysisSide: 256, EdgeMagnitude: quality.DefaultEdgeMagnitude}
	if _, err := NewAuditor(Options{Cache: c, Analyzer: coarse}).Run(context.Background(), dir); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if c.hits != 0 || len(c.entries) != 2 {
		t.Fatalf("metrics from other analyzer settings were reused: hits=%d entries=%d", c.hits, len(c.entries))
	}
}
