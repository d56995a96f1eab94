package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jo-hoe/tgforge/internal/unreal"
	"github.com/spf13/cobra"
)

var unrealCmd = &cobra.Command{
	Use:   "unreal",
	Short: "Send commands to the Unreal editor bridge",
	Long:  "Talks to the editor's MCP bridge plugin over TCP, one JSON command per line.",
}

func unrealClient() *unreal.Client {
	return unreal.NewClient(serviceConfig.Unreal.Address, serviceConfig.Unreal.Timeout)
}

var unrealPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the editor bridge answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := unrealClient()
		if err := client.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", green("reachable"), client.Address)
		return nil
	},
}

var unrealSendCmd = &cobra.Command{
	Use:   "send <command> [params-json]",
	Short: "Send a raw command and print the result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params map[string]any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("params must be a JSON object: %w", err)
			}
		}
		result, err := unrealClient().Send(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var unrealImportCmd = &cobra.Command{
	Use:   "import <file> [destination]",
	Short: "Import a texture into the content browser",
	Long:  "Imports file below destination (default export.unrealDestination from the config).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := serviceConfig.Export.UnrealDestination
		if len(args) == 2 {
			dest = args[1]
		}
		if dest == "" {
			return fmt.Errorf("no destination given and export.unrealDestination is not set")
		}
		source, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		result, err := unrealClient().ImportTexture(cmd.Context(), source, dest)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(result)
		}
		fmt.Fprintf(stdout, "%s %s -> %s\n", green("imported"), source, dest)
		return nil
	},
}

func init() {
	unrealCmd.AddCommand(unrealPingCmd)
	unrealCmd.AddCommand(unrealSendCmd)
	unrealCmd.AddCommand(unrealImportCmd)
}
