package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/jo-hoe/tgforge/internal/backend/commands"
	"github.com/jo-hoe/tgforge/internal/backend/commandstructure"
	"github.com/jo-hoe/tgforge/internal/comfyui"
	"github.com/jo-hoe/tgforge/internal/quality"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Cache struct {
	Type    string        `yaml:"type" validate:"omitempty,oneof=none redis"`
	Address string        `yaml:"address"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

type Audit struct {
	Extensions []string `yaml:"extensions" validate:"dive,required"`
	Workers    int      `yaml:"workers" validate:"gte=0"`
	// Report is the JSONL report path. Empty disables the report.
	Report string `yaml:"report"`
	// RouteDir receives keep/review/reject folders. Empty disables routing.
	RouteDir string `yaml:"routeDir"`
	Move     bool   `yaml:"move"`
}

type Monitor struct {
	Dir             string        `yaml:"dir"`
	Debounce        time.Duration `yaml:"debounce" validate:"gte=0"`
	ProcessExisting bool          `yaml:"processExisting"`
}

type Unreal struct {
	Address string        `yaml:"address" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type Export struct {
	Dir      string                           `yaml:"dir" validate:"required"`
	Commands []commandstructure.CommandConfig `yaml:"commands" validate:"dive"`
	// UnrealDestination is the content browser path, e.g. /Game/TG/Textures.
	// Empty disables the editor import.
	UnrealDestination string `yaml:"unrealDestination"`
}

type ServiceConfig struct {
	Port     int                `yaml:"port" validate:"gte=0,lte=65535"`
	LogLevel string             `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Database Database           `yaml:"database"`
	Cache    Cache              `yaml:"cache"`
	Quality  quality.Thresholds `yaml:"quality"`
	Audit    Audit              `yaml:"audit"`
	Monitor  Monitor            `yaml:"monitor"`
	ComfyUI  comfyui.Config     `yaml:"comfyui"`
	Unreal   Unreal             `yaml:"unreal"`
	Export   Export             `yaml:"export"`
}

// DefaultConfig is the configuration used when no file exists. Values read
// from a file are layered on top of it.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:     8080,
		LogLevel: "info",
		Database: Database{Type: "sqlite", ConnectionString: "tgforge.db"},
		Cache:    Cache{Type: "none", TTL: 7 * 24 * time.Hour},
		Quality:  quality.DefaultThresholds(),
		Audit:    Audit{Extensions: append([]string(nil), quality.DefaultExtensions...)},
		Monitor:  Monitor{Debounce: 500 * time.Millisecond},
		ComfyUI:  comfyui.DefaultConfig(),
		Unreal:   Unreal{Address: "127.0.0.1:55557", Timeout: 10 * time.Second},
		Export:   Export{Dir: "export"},
	}
}

// ConfigPath returns CONFIG_PATH or config.yaml in the working directory.
func ConfigPath() string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cwd, "config.yaml")
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	config.ComfyUI = config.ComfyUI.WithDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return config, nil
}

// LoadConfigOrDefault behaves like LoadConfig but falls back to
// DefaultConfig when the file does not exist.
func LoadConfigOrDefault(configPath string) (*ServiceConfig, error) {
	config, err := LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file found, using defaults", "path", configPath)
		return DefaultConfig(), nil
	}
	return config, err
}

var configValidator = validator.New()

func (c *ServiceConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}
	if c.Cache.Type == "redis" && c.Cache.Address == "" {
		return errors.New("cache.address is required for redis")
	}
	for _, ext := range c.Audit.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("audit extension %q must start with a dot", ext)
		}
	}
	if d := c.Export.UnrealDestination; d != "" && !strings.HasPrefix(d, "/Game/") {
		return fmt.Errorf("export.unrealDestination %q must start with /Game/", d)
	}
	if err := validateCommands(c.Export.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// validateCommands ensures all command configurations have a unique,
// registered name
func validateCommands(commands []commandstructure.CommandConfig) error {
	seenNames := make(map[string]bool)
	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command %q at index %d (known: %s)",
				cmd.Name, i, strings.Join(commandstructure.DefaultRegistry.Names(), ", "))
		}
	}
	return nil
}

// SlogLevel maps LogLevel onto slog. Unknown values mean info.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
