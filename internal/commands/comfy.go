package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jo-hoe/tgforge/internal/comfyui"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/spf13/cobra"
)

var (
	comfyOut         string
	comfyNegative    string
	comfyWidth       int
	comfyHeight      int
	comfySeed        int64
	comfyCount       int
	comfyConcurrency int
	comfyClientID    string
)

var comfyCmd = &cobra.Command{
	Use:   "comfy",
	Short: "Drive a ComfyUI server",
}

var comfyGenerateCmd = &cobra.Command{
	Use:   "generate <jobs.yaml>",
	Short: "Run a batch job file and audit every generated image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := comfyui.LoadJobs(args[0])
		if err != nil {
			return err
		}
		return runJobs(cmd, jobs)
	},
}

var comfyPromptCmd = &cobra.Command{
	Use:   "prompt <text>",
	Short: "Generate images for a single prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job := comfyui.Job{
			Name:     "prompt",
			Positive: strings.Join(args, " "),
			Negative: comfyNegative,
			Width:    comfyWidth,
			Height:   comfyHeight,
			Seed:     comfySeed,
			Count:    max(comfyCount, 1),
		}
		return runJobs(cmd, []comfyui.Job{job})
	},
}

func runJobs(cmd *cobra.Command, jobs []comfyui.Job) error {
	if comfyConcurrency > 0 {
		serviceConfig.ComfyUI.Concurrency = comfyConcurrency
	}
	if comfyClientID != "" {
		serviceConfig.ComfyUI.ClientID = comfyClientID
	}
	return withCore(func(svc *core.CoreService) error {
		gen, err := svc.NewGenerator(comfyOut)
		if err != nil {
			return err
		}
		results, err := gen.Run(cmd.Context(), jobs)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(results)
		}

		failed := 0
		for _, res := range results {
			status := green("ok")
			if res.Err != nil {
				status = red(res.Error)
				failed++
			}
			fmt.Fprintf(stdout, "%s %s %s %s\n", cyan(res.Job), status, gray(res.Duration.Round(time.Millisecond)),
				gray("client_id="+res.ClientID+" prompts="+strings.Join(res.PromptIDs, ",")))
			for _, rec := range res.Records {
				printRecord(rec)
			}
		}
		if failed > 0 {
			return errFailed{what: fmt.Sprintf("%d of %d job(s)", failed, len(results))}
		}
		return nil
	})
}

var comfyQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show running and pending prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := comfyui.NewClient(serviceConfig.ComfyUI)
		if err != nil {
			return err
		}
		status, err := client.Queue(cmd.Context())
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(status)
		}
		fmt.Fprintf(stdout, "running: %d\npending: %d\n", status.Running, status.Pending)
		return nil
	},
}

var comfyNodesCmd = &cobra.Command{
	Use:   "nodes [class_type...]",
	Short: "Check that ComfyUI provides the node types the workflows use",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := comfyui.NewClient(serviceConfig.ComfyUI)
		if err != nil {
			return err
		}
		required := args
		if len(required) == 0 {
			required = workflowNodeTypes()
		}
		missing, err := client.HasNodeTypes(cmd.Context(), required...)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(map[string]any{"required": required, "missing": missing})
		}
		for _, t := range required {
			mark := green("ok")
			for _, m := range missing {
				if m == t {
					mark = red("missing")
				}
			}
			fmt.Fprintf(stdout, "%-24s %s\n", t, mark)
		}
		if len(missing) > 0 {
			return errFailed{what: "node check"}
		}
		return nil
	},
}

var comfyWatchCmd = &cobra.Command{
	Use:   "watch <prompt_id>",
	Short: "Stream execution progress of a queued prompt",
	Long:  "ComfyUI streams progress only to the client id that queued the prompt. Pass it with --client-id or set comfyui.clientId in the config so generate and watch share it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := serviceConfig.ComfyUI
		if comfyClientID != "" {
			cfg.ClientID = comfyClientID
		}
		if cfg.ClientID == "" {
			return fmt.Errorf("watch needs the client id that queued the prompt: pass --client-id or set comfyui.clientId")
		}
		client, err := comfyui.NewClient(cfg)
		if err != nil {
			return err
		}
		return client.WatchProgress(cmd.Context(), args[0], func(ev comfyui.Event) {
			if jsonFlag {
				_ = printJSON(ev)
				return
			}
			switch ev.Type {
			case "progress":
				fmt.Fprintf(stdout, "%s node %s %d/%d\n", cyan("progress"), ev.Node, ev.Value, ev.Max)
			default:
				fmt.Fprintf(stdout, "%s node %s\n", cyan(ev.Type), ev.Node)
			}
		})
	},
}

var comfyInterruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Interrupt the prompt ComfyUI is executing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := comfyui.NewClient(serviceConfig.ComfyUI)
		if err != nil {
			return err
		}
		return client.Interrupt(cmd.Context())
	},
}

// workflowNodeTypes lists the class types used by the built-in workflows.
func workflowNodeTypes() []string {
	base := comfyui.Txt2ImgParams{Positive: "check"}
	workflows := []comfyui.Workflow{comfyui.BuildTxt2Img(base)}
	if img, err := comfyui.BuildImg2Img(comfyui.Img2ImgParams{Txt2ImgParams: base, Image: "check.png"}); err == nil {
		workflows = append(workflows, img)
	}
	seen := map[string]bool{}
	for _, wf := range workflows {
		for _, node := range wf {
			seen[node.ClassType] = true
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func init() {
	comfyCmd.PersistentFlags().StringVar(&comfyOut, "out", "generated", "output directory for downloaded images")
	comfyCmd.PersistentFlags().IntVar(&comfyConcurrency, "concurrency", 0, "prompts in flight (default comfyui.concurrency)")
	comfyCmd.PersistentFlags().StringVar(&comfyClientID, "client-id", "", "ComfyUI client id for queued prompts and progress (default comfyui.clientId or a fresh id)")

	comfyPromptCmd.Flags().StringVar(&comfyNegative, "negative", "", "negative prompt")
	comfyPromptCmd.Flags().IntVar(&comfyWidth, "width", 0, "image width (default 1024)")
	comfyPromptCmd.Flags().IntVar(&comfyHeight, "height", 0, "image height (default 1024)")
	comfyPromptCmd.Flags().Int64Var(&comfySeed, "seed", 0, "first seed")
	comfyPromptCmd.Flags().IntVar(&comfyCount, "count", 1, "number of variations")

	comfyCmd.AddCommand(comfyGenerateCmd)
	comfyCmd.AddCommand(comfyPromptCmd)
	comfyCmd.AddCommand(comfyQueueCmd)
	comfyCmd.AddCommand(comfyNodesCmd)
	comfyCmd.AddCommand(comfyWatchCmd)
	comfyCmd.AddCommand(comfyInterruptCmd)
}
