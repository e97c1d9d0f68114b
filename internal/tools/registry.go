// Package tools holds the registry of callable tools shared by every agent.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ErrToolNotFound is returned when invoking an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// ExecutorFunc executes one tool call with validated arguments and returns its text output.
type ExecutorFunc func(ctx context.Context, args map[string]any) (string, error)

// Invoker is the narrow view of a registry used by agents.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

type entry struct {
	desc domain.ToolDescriptor
	exec ExecutorFunc
}

// Registry stores tool descriptors and executors keyed by tool name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

// Register adds a tool. A descriptor without a category is tagged from its
// name; argument specs are validated here, once.
func (r *Registry) Register(desc domain.ToolDescriptor, exec ExecutorFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	if desc.Category == "" {
		desc.Category = Categorize(desc.Name)
	}
	if !desc.Category.Valid() {
		return fmt.Errorf("tool %s: unknown category %q", desc.Name, desc.Category)
	}
	if err := validateSpecs(desc.Args); err != nil {
		return fmt.Errorf("tool %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool already registered: %s", desc.Name)
	}
	r.tools[desc.Name] = entry{desc: desc, exec: exec}
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(desc domain.ToolDescriptor, exec ExecutorFunc) {
	if err := r.Register(desc, exec); err != nil {
		panic(err)
	}
}

// Unregister removes every tool registered from source.
func (r *Registry) Unregister(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, e := range r.tools {
		if e.desc.Source == source {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Get returns the descriptor of a tool.
func (r *Registry) Get(name string) (domain.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.desc, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns the descriptors tagged with category, sorted by name.
func (r *Registry) ByCategory(category domain.ToolCategory) []domain.ToolDescriptor {
	var out []domain.ToolDescriptor
	for _, d := range r.List() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Invoke validates args against the tool's specs and runs its executor.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	clean, err := ValidateArgs(e.desc.Args, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return e.exec(ctx, clean)
}
