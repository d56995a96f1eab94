package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jo-hoe/tgforge/internal/backend/database"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/jo-hoe/tgforge/internal/testutil"
)

func newTestCoreService(t *testing.T, mutate func(*ServiceConfig)) *CoreService {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Quality.MinWidth = 16
	cfg.Quality.MinHeight = 16
	cfg.Export.Dir = filepath.Join(t.TempDir(), "export")
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := NewCoreService(cfg)
	if err != nil {
		t.Fatalf("NewCoreService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestCoreService_AuditAndReview(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePNG(t, dir, "flat.png", testutil.Uniform(64, 64, 128))
	testutil.WritePNG(t, dir, "detail.png", testutil.Checkerboard(64, 64, 4))
	report := filepath.Join(t.TempDir(), "reports", "audit.jsonl")

	svc := newTestCoreService(t, func(c *ServiceConfig) { c.Audit.Report = report })
	summary, err := svc.AuditDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("AuditDirectory() error = %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	all, err := svc.ListAudits("")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListAudits() = %d records, %v", len(all), err)
	}
	if data, err := os.ReadFile(report); err != nil || len(data) == 0 {
		t.Errorf("report not written: %v", err)
	}

	counts, err := svc.CountByDecision()
	if err != nil {
		t.Fatal(err)
	}
	if counts[quality.Keep]+counts[quality.Review]+counts[quality.Reject] != 2 {
		t.Errorf("counts = %v", counts)
	}

	id := all[0].ID
	if err := svc.ResolveReview(id, quality.Review); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
	if err := svc.ResolveReview(id, quality.Keep); err != nil {
		t.Fatalf("ResolveReview() error = %v", err)
	}
	rec, err := svc.GetAudit(id)
	if err != nil || rec.Decision != quality.Keep {
		t.Errorf("record = %+v, %v", rec, err)
	}
	if err := svc.DeleteAudit(id); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetAudit(id); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCoreService_AnalyzeImageUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := newTestCoreService(t, func(c *ServiceConfig) {
		c.Cache.Type = "redis"
		c.Cache.Address = mr.Addr()
	})
	data := testutil.EncodePNG(t, testutil.Blocks(32, 32, 4))
	rec, err := svc.AnalyzeImage(context.Background(), "upload.png", data)
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if rec.ID != database.ContentID(data) || rec.Width != 32 {
		t.Errorf("record = %+v", rec)
	}
	if len(mr.Keys()) != 1 {
		t.Errorf("expected one cached entry, got %v", mr.Keys())
	}
}

func TestCoreService_Export(t *testing.T) {
	svc := newTestCoreService(t, nil)
	data := testutil.EncodePNG(t, testutil.Checkerboard(32, 32, 4))
	path := filepath.Join(t.TempDir(), "hero.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := svc.Auditor().AuditFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Decision != quality.Keep {
		if err := svc.ResolveReview(rec.ID, quality.Keep); err != nil {
			t.Fatal(err)
		}
	}

	ex, err := svc.NewExporter(true)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}
	res, err := ex.Run(context.Background())
	if err != nil || res.Exported != 1 {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	if _, err := os.Stat(filepath.Join(svc.Config().Export.Dir, "hero.png")); err != nil {
		t.Error(err)
	}
}

func TestCoreService_Clients(t *testing.T) {
	svc := newTestCoreService(t, nil)
	a, err := svc.ComfyClient()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := svc.ComfyClient()
	if a != b {
		t.Error("ComfyClient should be created once")
	}
	if got := svc.UnrealClient().Address; got != "127.0.0.1:55557" {
		t.Errorf("unreal address = %s", got)
	}
	if _, err := svc.NewMonitor("", nil); err == nil {
		t.Error("expected error without monitor directory")
	}
}

func TestNewCoreService_BadCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Cache.Type = "memcached"
	if _, err := NewCoreService(cfg); err == nil {
		t.Fatal("expected error for unsupported cache")
	}
}
