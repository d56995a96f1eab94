package commands

import (
	"fmt"
	"sort"

	"github.com/jo-hoe/tgforge/internal/svgasset"
	"github.com/spf13/cobra"
)

var (
	emblemShape string
	emblemSize  int
	emblemOut   string
	emblemPNG   bool
	emblemAll   bool
)

var emblemCmd = &cobra.Command{
	Use:   "emblem [faction...]",
	Short: "Render faction emblems as SVG and PNG placeholder art",
	RunE: func(cmd *cobra.Command, args []string) error {
		factions := args
		if emblemAll {
			for name := range svgasset.Palettes {
				factions = append(factions, name)
			}
			sort.Strings(factions)
		}
		if len(factions) == 0 {
			return fmt.Errorf("name at least one faction or pass --all")
		}
		var written []string
		for _, faction := range factions {
			paths, err := svgasset.NewEmblem(faction, emblemShape, emblemSize).Write(emblemOut, emblemPNG)
			if err != nil {
				return err
			}
			written = append(written, paths...)
			if !jsonFlag {
				for _, p := range paths {
					fmt.Fprintf(stdout, "%s %s\n", green("wrote"), p)
				}
			}
		}
		if jsonFlag {
			return printJSON(written)
		}
		return nil
	},
}

func init() {
	emblemCmd.Flags().StringVar(&emblemShape, "shape", "shield", "emblem shape: circle, shield or diamond")
	emblemCmd.Flags().IntVar(&emblemSize, "size", 512, "output size in pixels")
	emblemCmd.Flags().StringVar(&emblemOut, "out", "emblems", "output directory")
	emblemCmd.Flags().BoolVar(&emblemPNG, "png", true, "also rasterise to PNG")
	emblemCmd.Flags().BoolVar(&emblemAll, "all", false, "render every known faction")
}
