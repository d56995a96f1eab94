// Package mcpserver exposes the asset checks as MCP tools so editor agents
// can audit art and docs without shelling out to the CLI.
package mcpserver

import (
	"context"

	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/docs"
	"github.com/jo-hoe/tgforge/internal/placeholders"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
var Version = "v0.1.0"

type handlers struct {
	core    *core.CoreService
	scanner *placeholders.Scanner
	docs    *docs.Validator
}

// NewServer registers the tgforge tools on a new MCP server.
func NewServer(coreService *core.CoreService) *mcp.Server {
	h := &handlers{
		core:    coreService,
		scanner: placeholders.NewScanner(),
		docs:    docs.NewValidator(),
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "tgforge",
			Version: Version,
		},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_image",
		Description: "Compute quality metrics for one image file and classify it as keep, review or reject. The result is stored in the audit database.",
	}, h.analyzeImage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "audit_directory",
		Description: "Audit every image below a directory. Returns keep/review/reject counts. Records go to the audit database and the configured JSONL report.",
	}, h.auditDirectory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_placeholders",
		Description: "Find placeholder art (flat, tiny or temp-named images) and placeholder text markers such as TODO or lorem ipsum below a directory.",
	}, h.scanPlaceholders)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "lint_docs",
		Description: "Validate the YAML frontmatter of every markdown document below a directory.",
	}, h.lintDocs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "review_queue",
		Description: "List the images waiting for a human keep/reject decision, in queue order.",
	}, h.reviewQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "comfyui_queue",
		Description: "Report how many prompts ComfyUI is running and how many are pending.",
	}, h.comfyQueue)

	return server
}

// Run serves the tools over stdio until the client disconnects or ctx ends.
func Run(ctx context.Context, coreService *core.CoreService) error {
	return NewServer(coreService).Run(ctx, &mcp.StdioTransport{})
}
