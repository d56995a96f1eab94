package commands

import (
	"fmt"

	"github.com/jo-hoe/tgforge/internal/placeholders"
	"github.com/spf13/cobra"
)

var placeholdersMinSide int

var placeholdersCmd = &cobra.Command{
	Use:   "placeholders <dir>",
	Short: "Find placeholder art and placeholder text",
	Long:  "Reports flat, near-single-colour, tiny or temp-named images and TODO, TBD or lorem ipsum markers in text files. Exits non-zero when anything is found.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := placeholders.NewScanner()
		if placeholdersMinSide > 0 {
			scanner.MinSide = placeholdersMinSide
		}
		report, err := scanner.Scan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			for _, f := range report.Findings {
				fmt.Fprintf(stdout, "%s %s\n", yellow("PLACEHOLDER"), f)
			}
			status := green("clean")
			if report.Failed() {
				status = red(fmt.Sprintf("%d finding(s)", len(report.Findings)))
			}
			fmt.Fprintf(stdout, "\nscanned %d image(s) and %d text file(s): %s\n",
				report.ImagesScanned, report.FilesScanned, status)
		}
		if report.Failed() {
			return errFailed{what: "placeholder scan"}
		}
		return nil
	},
}

func init() {
	placeholdersCmd.Flags().IntVar(&placeholdersMinSide, "min-side", 0, "smallest image side that is not a placeholder (default 64)")
}
