package commandstructure

import (
	"fmt"
	"sort"
	"sync"
)

// CommandRegistry maps command names to factories.
type CommandRegistry struct {
	mu        sync.RWMutex
	factories map[string]CommandFactory
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{factories: make(map[string]CommandFactory)}
}

// Register adds a factory. Names must be unique.
func (r *CommandRegistry) Register(name string, factory CommandFactory) error {
	if name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("command factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("command %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the named command.
func (r *CommandRegistry) Create(name string, params map[string]any) (Command, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	cmd, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create command %s: %w", name, err)
	}
	return cmd, nil
}

func (r *CommandRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Names returns the registered command names in sorted order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is filled by the commands package at init time.
var DefaultRegistry = NewCommandRegistry()
