package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/testutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, mutate func(*core.ServiceConfig)) *mcp.ClientSession {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Quality.MinWidth = 16
	cfg.Quality.MinHeight = 16
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := core.NewCoreService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := NewServer(svc).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

func TestListTools(t *testing.T) {
	session := connect(t, nil)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"analyze_image", "audit_directory", "comfyui_queue", "lint_docs", "review_queue", "scan_placeholders"}, names)
}

func TestAnalyzeAndAudit(t *testing.T) {
	session := connect(t, nil)
	dir := t.TempDir()
	path := testutil.WritePNG(t, dir, "hero.png", testutil.Blocks(64, 64, 8))
	testutil.WritePNG(t, dir, "flat.png", testutil.Uniform(64, 64, 128))

	var rec recordOutput
	res := call(t, session, "analyze_image", map[string]any{"path": path}, &rec)
	require.False(t, res.IsError)
	assert.Equal(t, 64, rec.Width)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.AuditedAt)

	var summary summaryOutput
	res = call(t, session, "audit_directory", map[string]any{"dir": dir}, &summary)
	require.False(t, res.IsError)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Reject)

	res = call(t, session, "audit_directory", map[string]any{"dir": filepath.Join(dir, "missing")}, nil)
	assert.True(t, res.IsError)

	res = call(t, session, "analyze_image", map[string]any{"path": filepath.Join(dir, "missing.png")}, nil)
	assert.True(t, res.IsError)
}

func TestScanPlaceholdersAndLintDocs(t *testing.T) {
	session := connect(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("---\ntitle: Notes\n---\nTODO: write lore\n"), 0o644))

	var report struct {
		Findings []struct {
			Kind string `json:"kind"`
		} `json:"findings"`
	}
	res := call(t, session, "scan_placeholders", map[string]any{"dir": dir}, &report)
	require.False(t, res.IsError)
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, "text_marker", report.Findings[0].Kind)

	var lint lintResult
	res = call(t, session, "lint_docs", map[string]any{"dir": dir}, &lint)
	require.False(t, res.IsError)
	assert.Equal(t, 1, lint.Checked)
	assert.Positive(t, lint.Errors)
}

func TestReviewQueueEmpty(t *testing.T) {
	session := connect(t, nil)
	var queue reviewResult
	res := call(t, session, "review_queue", map[string]any{}, &queue)
	require.False(t, res.IsError)
	assert.Empty(t, queue.Records)
}

func TestComfyQueue(t *testing.T) {
	comfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"queue_running":[],"queue_pending":[[1,"a"]]}`))
	}))
	defer comfy.Close()

	session := connect(t, func(c *core.ServiceConfig) { c.ComfyUI.BaseURL = comfy.URL })
	var status struct {
		Running int `json:"running"`
		Pending int `json:"pending"`
	}
	res := call(t, session, "comfyui_queue", map[string]any{}, &status)
	require.False(t, res.IsError)
	assert.Equal(t, 1, status.Pending)
}
