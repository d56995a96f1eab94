package commands

import (
	"fmt"

	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/spf13/cobra"
)

var (
	exportDir    string
	exportUnreal bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run keep records through the export pipeline",
	Long:  "Reads every image with decision keep from the audit database, applies export.commands and writes PNGs to export.dir. With --unreal each file is imported into the editor.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportDir != "" {
			serviceConfig.Export.Dir = exportDir
		}
		return withCore(func(svc *core.CoreService) error {
			ex, err := svc.NewExporter(exportUnreal)
			if err != nil {
				return err
			}
			res, err := ex.Run(cmd.Context())
			if err != nil {
				return err
			}
			if jsonFlag {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				for _, item := range res.Items {
					if item.Error != "" {
						fmt.Fprintf(stdout, "%s %s: %s\n", red("FAILED"), item.Source, item.Error)
						continue
					}
					fmt.Fprintf(stdout, "%s %s -> %s\n", green("OK"), item.Source, item.Target)
				}
				fmt.Fprintf(stdout, "\nexported %s, failed %s\n", green(res.Exported), red(res.Failed))
			}
			if res.Failed > 0 {
				return errFailed{what: "export"}
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "override export.dir")
	exportCmd.Flags().BoolVar(&exportUnreal, "unreal", false, "import exported files into the editor")
}
