package commands

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/spf13/cobra"
)

var monitorExisting bool

var monitorCmd = &cobra.Command{
	Use:   "monitor [dir]",
	Short: "Watch a folder and audit images as they are written",
	Long:  "Watches dir (default monitor.dir from the config) and audits each new or changed image once it has settled on disk. Runs until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		if monitorExisting {
			serviceConfig.Monitor.ProcessExisting = true
		}
		return withCore(func(svc *core.CoreService) error {
			m, err := svc.NewMonitor(dir, func(rec *audit.Record) {
				if jsonFlag {
					_ = printJSON(rec)
					return
				}
				printRecord(rec)
			})
			if err != nil {
				return err
			}
			if err := m.Start(cmd.Context()); err != nil {
				return err
			}
			slog.Info("monitor running, press Ctrl+C to stop")
			<-cmd.Context().Done()
			m.Stop()

			stats := m.Stats()
			if !jsonFlag {
				fmt.Fprintf(stdout, "\n%s processed=%d keep=%s review=%s reject=%s errors=%d\n",
					cyan("Monitor stopped"), stats.Processed,
					green(stats.Keep), yellow(stats.Review), red(stats.Reject), stats.Errors)
			}
			return nil
		})
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorExisting, "existing", false, "audit files already in the folder on start")
}
