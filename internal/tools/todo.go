package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pilotdev/pilot/internal/permission"
)

// TodoItem is one entry in the session task list.
type TodoItem struct {
	Content string
	Status  string // pending, in_progress, completed
}

// TodoTool replaces the session-shared task list. Because the list is
// shared state, invocations serialize against each other in the scheduler.
type TodoTool struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoTool() *TodoTool { return &TodoTool{} }

func (t *TodoTool) Name() string { return "todo" }

func (t *TodoTool) Description() string {
	return "Replace the session task list. Each todo has content and a status of pending, in_progress, or completed."
}

func (t *TodoTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"todos": map[string]any{
			"type":        "array",
			"description": "Complete task list; replaces the previous list",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
					"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
				},
				"required": []string{"content", "status"},
			},
		},
	}, "todos")
}

func (t *TodoTool) Risk() permission.RiskClass { return permission.RiskMutating }

// StateKey marks the tool as acting on shared session state.
func (t *TodoTool) StateKey() string { return "todos" }

func (t *TodoTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, ok := args["todos"].([]any)
	if !ok {
		return "", fmt.Errorf("todos argument must be an array")
	}

	items := make([]TodoItem, 0, len(raw))
	for i, entry := range raw {
		obj, ok := entry.(map[string]any)
		if !ok {
			return "", fmt.Errorf("todos[%d] must be an object", i)
		}
		item := TodoItem{
			Content: stringArg(obj, "content"),
			Status:  stringArg(obj, "status"),
		}
		if item.Content == "" {
			return "", fmt.Errorf("todos[%d] is missing content", i)
		}
		switch item.Status {
		case "pending", "in_progress", "completed":
		default:
			return "", fmt.Errorf("todos[%d] has invalid status %q", i, item.Status)
		}
		items = append(items, item)
	}

	t.mu.Lock()
	t.items = items
	t.mu.Unlock()

	return t.render(), nil
}

// Items returns a copy of the current task list.
func (t *TodoTool) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TodoItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t *TodoTool) render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return "task list cleared"
	}
	var sb strings.Builder
	done := 0
	for _, item := range t.items {
		mark := " "
		switch item.Status {
		case "completed":
			mark = "x"
			done++
		case "in_progress":
			mark = ">"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, item.Content)
	}
	fmt.Fprintf(&sb, "%d/%d completed", done, len(t.items))
	return sb.String()
}
