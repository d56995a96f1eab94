package commands

import (
	"fmt"
	"os"

	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/spf13/cobra"
)

var (
	auditReport  string
	auditRoute   string
	auditMove    bool
	auditWorkers int
	auditStrict  bool
	auditList    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit <dir>",
	Short: "Classify every image below dir as keep, review or reject",
	Long:  "Computes sharpness, exposure, contrast, edge density and resolution for each image, classifies it and records the result in the audit database and an optional JSONL report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditReport != "" {
			serviceConfig.Audit.Report = auditReport
		}
		if auditRoute != "" {
			serviceConfig.Audit.RouteDir = auditRoute
			serviceConfig.Audit.Move = auditMove
		}
		if auditWorkers > 0 {
			serviceConfig.Audit.Workers = auditWorkers
		}
		return withCore(func(svc *core.CoreService) error {
			summary, err := svc.AuditDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonFlag {
				if err := printJSON(summary); err != nil {
					return err
				}
			} else {
				if auditList {
					listFlagged(summary.Records)
				}
				printSummary(summary)
			}
			if auditStrict && (summary.Reject > 0 || summary.Errors > 0) {
				return errFailed{what: "audit"}
			}
			return nil
		})
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show [keep|review|reject]",
	Short: "List stored audit records, optionally filtered by decision",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var decision quality.Decision
		if len(args) == 1 {
			d, err := quality.ParseDecision(args[0])
			if err != nil {
				return err
			}
			decision = d
		}
		return withCore(func(svc *core.CoreService) error {
			records, err := svc.ListAudits(decision)
			if err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(records)
			}
			for _, rec := range records {
				printRecord(rec)
			}
			fmt.Fprintf(stdout, "%d record(s)\n", len(records))
			return nil
		})
	},
}

// listFlagged prints the rejected and then the review records of a run.
func listFlagged(records []*audit.Record) {
	for _, d := range []quality.Decision{quality.Reject, quality.Review} {
		for _, rec := range records {
			if rec.Decision == d {
				printRecord(rec)
			}
		}
	}
}

func init() {
	auditCmd.Flags().StringVar(&auditReport, "report", "", "append records to this JSONL report")
	auditCmd.Flags().StringVar(&auditRoute, "route", "", "copy files into <route>/keep, review and reject")
	auditCmd.Flags().BoolVar(&auditMove, "move", false, "move instead of copy when routing")
	auditCmd.Flags().IntVar(&auditWorkers, "workers", 0, "parallel workers (default GOMAXPROCS)")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "exit non-zero when any image is rejected")
	auditCmd.Flags().BoolVar(&auditList, "list", false, "print the rejected and review records of this run")
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditSummarizeCmd)
}

func summaryFromReport(path string) (audit.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return audit.Summary{}, err
	}
	defer func() { _ = f.Close() }()
	records, err := audit.ReadReport(f)
	if err != nil {
		return audit.Summary{}, err
	}
	return audit.SummaryFromRecords(records), nil
}

var auditSummarizeCmd = &cobra.Command{
	Use:   "summarize <report.jsonl>",
	Short: "Recompute decision counts from a JSONL report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := summaryFromReport(args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(summary)
		}
		printSummary(summary)
		return nil
	},
}
