package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jo-hoe/tgforge/internal/audit"
	"github.com/jo-hoe/tgforge/internal/quality"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decisionLabel(d quality.Decision) string {
	switch d {
	case quality.Keep:
		return green("KEEP")
	case quality.Review:
		return yellow("REVIEW")
	default:
		return red("REJECT")
	}
}

func printRecord(rec *audit.Record) {
	fmt.Fprintf(stdout, "%-7s %s %s\n", decisionLabel(rec.Decision), rec.Path,
		gray(fmt.Sprintf("%dx%d sharp=%.0f bright=%.0f", rec.Width, rec.Height, rec.Sharpness, rec.Brightness)))
	for _, reason := range rec.Reasons {
		fmt.Fprintf(stdout, "        %s\n", gray(reason))
	}
}

func printSummary(s audit.Summary) {
	fmt.Fprintf(stdout, "\n%s\n", cyan("Audit summary"))
	fmt.Fprintf(stdout, "  total:  %d (%d cached)\n", s.Total, s.Cached)
	fmt.Fprintf(stdout, "  keep:   %s\n", green(s.Keep))
	fmt.Fprintf(stdout, "  review: %s\n", yellow(s.Review))
	fmt.Fprintf(stdout, "  reject: %s\n", red(s.Reject))
	if s.Errors > 0 {
		fmt.Fprintf(stdout, "  errors: %s\n", red(s.Errors))
	}
	fmt.Fprintf(stdout, "  time:   %s\n", s.Duration.Round(time.Millisecond))
}
