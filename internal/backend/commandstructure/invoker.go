package commandstructure

import (
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker runs a fixed chain of commands.
type CommandInvoker struct {
	commands []Command
}

func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{commands: commands}
}

// Build resolves configs against the registry. All configs are checked
// before anything runs, so a typo fails the export up front.
func Build(registry *CommandRegistry, configs []CommandConfig) (*CommandInvoker, error) {
	commands := make([]Command, 0, len(configs))
	for i, cfg := range configs {
		cmd, err := registry.Create(cfg.Name, cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("export step %d (%s): %w", i, cfg.Name, err)
		}
		commands = append(commands, cmd)
	}
	return NewCommandInvoker(commands), nil
}

// Len is the number of steps.
func (i *CommandInvoker) Len() int {
	return len(i.commands)
}

// Execute applies the commands in order.
func (i *CommandInvoker) Execute(imageData []byte) ([]byte, error) {
	if len(i.commands) == 0 {
		return imageData, nil
	}
	start := time.Now()
	current := imageData

	for idx, cmd := range i.commands {
		stepStart := time.Now()
		out, err := cmd.Execute(current)
		if err != nil {
			slog.Error("export step failed",
				"index", idx,
				"command_name", cmd.Name(),
				"input_size_bytes", len(current),
				"error", err)
			return nil, fmt.Errorf("command %s (index %d) failed: %w", cmd.Name(), idx, err)
		}
		slog.Debug("export step completed",
			"index", idx,
			"command_name", cmd.Name(),
			"duration_ms", time.Since(stepStart).Milliseconds(),
			"output_size_bytes", len(out))
		current = out
	}

	slog.Debug("export pipeline completed",
		"command_count", len(i.commands),
		"total_duration_ms", time.Since(start).Milliseconds(),
		"final_size_bytes", len(current))
	return current, nil
}

// ExecuteCommands builds the pipeline from DefaultRegistry and runs it.
func ExecuteCommands(imageData []byte, configs []CommandConfig) ([]byte, error) {
	invoker, err := Build(DefaultRegistry, configs)
	if err != nil {
		return nil, err
	}
	return invoker.Execute(imageData)
}
