// Package commandstructure holds the export pipeline plumbing: the Command
// interface, a name keyed registry and the pipeline runner.
package commandstructure

// Command transforms encoded image data. Commands take any decodable format
// and emit PNG.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandFactory creates a command from configuration parameters.
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig is one pipeline step as written in config.yaml.
type CommandConfig struct {
	Name   string         `yaml:"name" json:"name" validate:"required"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}
