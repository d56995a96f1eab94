package commands

import (
	"fmt"

	"github.com/jo-hoe/tgforge/internal/docs"
	"github.com/spf13/cobra"
)

var docsIncludeReadme bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Documentation checks",
}

var docsLintCmd = &cobra.Command{
	Use:   "lint <dir>",
	Short: "Validate markdown frontmatter",
	Long:  "Checks that every markdown file below dir starts with YAML frontmatter carrying title, doc_type, status and last_updated. Unknown keys are warnings.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := docs.NewValidator()
		v.SkipReadme = !docsIncludeReadme
		issues, checked, err := v.ValidateTree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			if err := printJSON(map[string]any{"checked": checked, "issues": issues}); err != nil {
				return err
			}
		} else {
			for _, issue := range issues {
				label := yellow("WARN ")
				if issue.Severity == docs.SeverityError {
					label = red("ERROR")
				}
				fmt.Fprintf(stdout, "%s %s\n", label, issue)
			}
			fmt.Fprintf(stdout, "\nchecked %d document(s), %d issue(s)\n", checked, len(issues))
		}
		if docs.HasErrors(issues) {
			return errFailed{what: "docs lint"}
		}
		return nil
	},
}

func init() {
	docsLintCmd.Flags().BoolVar(&docsIncludeReadme, "include-readme", false, "also check README.md files")
	docsCmd.AddCommand(docsLintCmd)
}
