package mcpserver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/comfyui"
	"github.com/jo-hoe/tgforge/internal/docs"
	"github.com/jo-hoe/tgforge/internal/placeholders"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type pathInput struct {
	Path string `json:"path" jsonschema:"Path of the image file to analyze"`
}

type dirInput struct {
	Dir string `json:"dir" jsonschema:"Directory to walk recursively"`
}

type noInput struct{}

// Tool outputs are flat structs of plain JSON types so the inferred output
// schema matches what is sent.
type recordOutput struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Aspect      float64  `json:"aspect"`
	Sharpness   float64  `json:"sharpness"`
	Brightness  float64  `json:"brightness"`
	Contrast    float64  `json:"contrast"`
	ClipLow     float64  `json:"clip_low"`
	ClipHigh    float64  `json:"clip_high"`
	EdgeDensity float64  `json:"edge_density"`
	Decision    string   `json:"decision"`
	Reasons     []string `json:"reasons"`
	AuditedAt   string   `json:"audited_at"`
}

func toOutput(r *audit.Record) recordOutput {
	out := recordOutput{
		ID:          r.ID,
		Path:        r.Path,
		Width:       r.Width,
		Height:      r.Height,
		Aspect:      r.Aspect,
		Sharpness:   r.Sharpness,
		Brightness:  r.Brightness,
		Contrast:    r.Contrast,
		ClipLow:     r.ClipLow,
		ClipHigh:    r.ClipHigh,
		EdgeDensity: r.EdgeDensity,
		Decision:    string(r.Decision),
		Reasons:     r.Reasons,
		AuditedAt:   r.AuditedAt.Format(time.RFC3339),
	}
	if out.Reasons == nil {
		out.Reasons = []string{}
	}
	return out
}

type summaryOutput struct {
	Total      int   `json:"total"`
	Keep       int   `json:"keep"`
	Review     int   `json:"review"`
	Reject     int   `json:"reject"`
	Errors     int   `json:"errors"`
	Cached     int   `json:"cached"`
	DurationMs int64 `json:"duration_ms"`
}

type lintResult struct {
	Checked int          `json:"checked"`
	Errors  int          `json:"errors"`
	Issues  []docs.Issue `json:"issues"`
}

type reviewResult struct {
	Records []recordOutput `json:"records"`
}

func (h *handlers) analyzeImage(ctx context.Context, req *mcp.CallToolRequest, input pathInput) (*mcp.CallToolResult, recordOutput, error) {
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, recordOutput{}, fmt.Errorf("failed to read %s: %w", input.Path, err)
	}
	rec, err := h.core.AnalyzeImage(ctx, input.Path, data)
	if err != nil {
		return nil, recordOutput{}, err
	}
	return nil, toOutput(rec), nil
}

func (h *handlers) auditDirectory(ctx context.Context, req *mcp.CallToolRequest, input dirInput) (*mcp.CallToolResult, summaryOutput, error) {
	if err := requireDir(input.Dir); err != nil {
		return nil, summaryOutput{}, err
	}
	s, err := h.core.AuditDirectory(ctx, input.Dir)
	if err != nil {
		return nil, summaryOutput{}, err
	}
	return nil, summaryOutput{
		Total:      s.Total,
		Keep:       s.Keep,
		Review:     s.Review,
		Reject:     s.Reject,
		Errors:     s.Errors,
		Cached:     s.Cached,
		DurationMs: s.Duration.Milliseconds(),
	}, nil
}

func (h *handlers) scanPlaceholders(ctx context.Context, req *mcp.CallToolRequest, input dirInput) (*mcp.CallToolResult, placeholders.Report, error) {
	if err := requireDir(input.Dir); err != nil {
		return nil, placeholders.Report{}, err
	}
	report, err := h.scanner.Scan(ctx, input.Dir)
	if err != nil {
		return nil, placeholders.Report{}, err
	}
	if report.Findings == nil {
		report.Findings = []placeholders.Finding{}
	}
	return nil, report, nil
}

func (h *handlers) lintDocs(ctx context.Context, req *mcp.CallToolRequest, input dirInput) (*mcp.CallToolResult, lintResult, error) {
	if err := requireDir(input.Dir); err != nil {
		return nil, lintResult{}, err
	}
	issues, checked, err := h.docs.ValidateTree(ctx, input.Dir)
	if err != nil {
		return nil, lintResult{}, err
	}
	res := lintResult{Checked: checked, Issues: issues}
	if res.Issues == nil {
		res.Issues = []docs.Issue{}
	}
	for _, issue := range issues {
		if issue.Severity == docs.SeverityError {
			res.Errors++
		}
	}
	return nil, res, nil
}

func (h *handlers) reviewQueue(ctx context.Context, req *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, reviewResult, error) {
	queue, err := h.core.ReviewQueue()
	if err != nil {
		return nil, reviewResult{}, err
	}
	res := reviewResult{Records: make([]recordOutput, 0, len(queue))}
	for _, r := range queue {
		res.Records = append(res.Records, toOutput(r))
	}
	return nil, res, nil
}

func (h *handlers) comfyQueue(ctx context.Context, req *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, comfyui.QueueStatus, error) {
	client, err := h.core.ComfyClient()
	if err != nil {
		return nil, comfyui.QueueStatus{}, err
	}
	status, err := client.Queue(ctx)
	if err != nil {
		return nil, comfyui.QueueStatus{}, fmt.Errorf("ComfyUI is not reachable: %w", err)
	}
	return nil, *status, nil
}

func requireDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
