// Package tools defines the capability contract the scheduler dispatches
// against, a registry resolved once at session start, and the builtin
// tool set.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pilotdev/pilot/internal/permission"
)

// Tool is one callable capability. Implementations must be safe for
// concurrent invocation; anything path-scoped additionally implements
// FileTool so the scheduler can apply containment, freshness, and
// conflict rules.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Risk() permission.RiskClass
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// FileTool is implemented by tools whose invocation targets a single file
// or directory path. TargetPath resolves the path argument against the
// session root without touching the filesystem.
type FileTool interface {
	Tool
	TargetPath(args map[string]any) (string, error)
}

// SharedStateTool is implemented by tools that act on session-shared state
// and must therefore serialize against themselves (the todo tool).
type SharedStateTool interface {
	Tool
	StateKey() string
}

// Schema is the model-facing description of one tool.
type Schema struct {
	Name        string
	Description string
	Input       map[string]any
}

// Registry maps tool names to implementations. It is populated once at
// session start; dispatch afterwards is a table lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are an error; the closed table is
// the whole point.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas returns the model-facing schemas sorted by name.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			Input:       t.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterBuiltins populates the registry with the standard tool set
// rooted at the session working directory.
func RegisterBuiltins(r *Registry, root string) error {
	builtins := []Tool{
		NewReadTool(root),
		NewWriteTool(root),
		NewEditTool(root),
		NewListTool(root),
		NewGlobTool(root),
		NewGrepTool(root),
		NewBashTool(root),
		NewTodoTool(),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath resolves a possibly relative path argument against root.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path argument is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return filepath.Clean(path), nil
}

// stringArg extracts a string argument, empty when absent.
func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// intArg extracts an integer argument, falling back to def. JSON numbers
// arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// boolArg extracts a boolean argument.
func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// objectSchema builds a JSON-schema object with the given properties.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
