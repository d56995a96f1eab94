package commands

import (
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the tgforge MCP server over stdio",
	Long:  "Starts an MCP server over stdio exposing analyze_image, audit_directory, scan_placeholders, lint_docs, review_queue and comfyui_queue. Logs go to stderr.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpserver.Version = Version
		return withCore(func(svc *core.CoreService) error {
			return mcpserver.Run(cmd.Context(), svc)
		})
	},
}
