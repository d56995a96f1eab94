package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/jo-hoe/tgforge/internal/testutil"
)

// run executes the root command with a fresh config and captures stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	config := "database:\n  type: sqlite\n  connectionString: " + filepath.Join(dir, "tgforge.db") + "\n" +
		"quality:\n  minWidth: 16\n  minHeight: 16\n"
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	rootCmd.SetArgs(append([]string{"--config", configPath, "--json", "--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAuditCommand(t *testing.T) {
	dir := t.TempDir()
	testutil.WritePNG(t, dir, "hero.png", testutil.Blocks(64, 64, 8))
	testutil.WritePNG(t, dir, "flat.png", testutil.Uniform(64, 64, 128))

	out, err := run(t, "audit", dir, "--strict=false")
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	var summary audit.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if summary.Total != 2 || summary.Reject != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if _, err := run(t, "audit", dir, "--strict"); !errors.As(err, &errFailed{}) {
		t.Errorf("strict audit should fail on rejects, got %v", err)
	}
}

func TestPlaceholdersCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lore.md"), []byte("Coming soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "placeholders", dir)
	if !errors.As(err, &errFailed{}) {
		t.Fatalf("expected failure, got %v", err)
	}
	if !bytes.Contains([]byte(out), []byte(`"text_marker"`)) {
		t.Errorf("output = %s", out)
	}

	clean := t.TempDir()
	if _, err := run(t, "placeholders", clean); err != nil {
		t.Errorf("clean dir should pass, got %v", err)
	}
}

func TestDocsLintCommand(t *testing.T) {
	dir := t.TempDir()
	good := "---\ntitle: Factions\ndoc_type: lore\nstatus: draft\nlast_updated: 2026-01-02\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "factions.md"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "docs", "lint", dir); err != nil {
		t.Fatalf("valid docs failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no frontmatter\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "docs", "lint", dir); !errors.As(err, &errFailed{}) {
		t.Errorf("expected lint failure, got %v", err)
	}
}

func TestEmblemCommand(t *testing.T) {
	out := t.TempDir()
	stdoutText, err := run(t, "emblem", "Directorate", "--out", out, "--size", "64", "--png=false")
	if err != nil {
		t.Fatalf("emblem error = %v", err)
	}
	var written []string
	if err := json.Unmarshal([]byte(stdoutText), &written); err != nil || len(written) != 1 {
		t.Fatalf("written = %v (%v)", written, err)
	}
	if _, err := os.Stat(filepath.Join(out, "T_Emblem_directorate.svg")); err != nil {
		t.Error(err)
	}
}

func TestExportCommand_NothingToExport(t *testing.T) {
	out, err := run(t, "export", "--dir", t.TempDir())
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !bytes.Contains([]byte(out), []byte(`"exported": 0`)) {
		t.Errorf("output = %s", out)
	}
}

func TestWorkflowNodeTypes(t *testing.T) {
	types := workflowNodeTypes()
	want := map[string]bool{"KSampler": false, "LoadImage": false, "VAEEncode": false, "SaveImage": false}
	for _, tt := range types {
		if _, ok := want[tt]; ok {
			want[tt] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s missing from %v", name, types)
		}
	}
}

func TestListFlagged(t *testing.T) {
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	listFlagged([]*audit.Record{
		{Path: "keep.png", Decision: quality.Keep},
		{Path: "review.png", Decision: quality.Review},
		{Path: "reject.png", Decision: quality.Reject},
	})
	s := out.String()
	if bytes.Contains(out.Bytes(), []byte("keep.png")) {
		t.Errorf("keep records should not be listed:\n%s", s)
	}
	rejectAt := bytes.Index(out.Bytes(), []byte("reject.png"))
	reviewAt := bytes.Index(out.Bytes(), []byte("review.png"))
	if rejectAt < 0 || reviewAt < 0 || rejectAt > reviewAt {
		t.Errorf("expected rejects before reviews:\n%s", s)
	}
}

func TestComfyWatchNeedsClientID(t *testing.T) {
	_, err := run(t, "comfy", "watch", "p1")
	if err == nil || !strings.Contains(err.Error(), "client id") {
		t.Fatalf("expected client id error, got %v", err)
	}
}
