// Package commands implements the tgforge command line.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	configFlag   string
	logLevelFlag string
	jsonFlag     bool

	// loaded by the root PersistentPreRunE
	serviceConfig *core.ServiceConfig
)

var rootCmd = &cobra.Command{
	Use:           "tgforge",
	Short:         "Asset and documentation tooling for Terminal Grounds",
	Long:          "tgforge audits generated art, drives ComfyUI batches, lints documentation frontmatter and pushes approved textures into the Unreal editor.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configFlag
		if path == "" {
			path = core.ConfigPath()
		}
		var err error
		if configFlag != "" {
			serviceConfig, err = core.LoadConfig(path)
		} else {
			serviceConfig, err = core.LoadConfigOrDefault(path)
		}
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			serviceConfig.LogLevel = logLevelFlag
		}
		setupLogging(serviceConfig.SlogLevel())
		slog.Debug("configuration loaded", "path", path)
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override logLevel (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print results as JSON")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(placeholdersCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(comfyCmd)
	rootCmd.AddCommand(unrealCmd)
	rootCmd.AddCommand(emblemCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

// setupLogging sends logs to stderr so stdout stays clean for results and
// the MCP stdio transport.
func setupLogging(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// withCore opens the core service for the duration of fn.
func withCore(fn func(*core.CoreService) error) error {
	svc, err := core.NewCoreService(serviceConfig)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			slog.Error("failed to close core service", "error", cerr)
		}
	}()
	return fn(svc)
}

// errFailed makes the process exit non-zero after the report was printed.
type errFailed struct {
	what string
}

func (e errFailed) Error() string {
	return fmt.Sprintf("%s failed", e.what)
}
