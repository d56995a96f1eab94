package commands

import (
	"github.com/jo-hoe/tgforge/internal/backend"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/frontend"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the review page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			serviceConfig.Port = servePort
		}
		return withCore(func(svc *core.CoreService) error {
			server := backend.NewServer()
			backend.NewAPIService(serviceConfig, svc).SetRoutes(server)
			frontend.NewFrontendService(svc).SetRoutes(server)
			return backend.Serve(cmd.Context(), server, serviceConfig.Port)
		})
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override port")
}
