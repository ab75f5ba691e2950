package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pilotdev/pilot/internal/permission"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// ReadTool returns file content with line numbers.
type ReadTool struct {
	root string
}

func NewReadTool(root string) *ReadTool { return &ReadTool{root: root} }

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the working directory. Returns numbered lines. Supports offset and limit for large files."
}

func (t *ReadTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"file_path": map[string]any{"type": "string", "description": "Path to the file, absolute or relative to the working directory"},
		"offset":    map[string]any{"type": "integer", "description": "1-based line to start from"},
		"limit":     map[string]any{"type": "integer", "description": "Maximum number of lines to return"},
	}, "file_path")
}

func (t *ReadTool) Risk() permission.RiskClass { return permission.RiskReadOnly }

func (t *ReadTool) TargetPath(args map[string]any) (string, error) {
	return resolvePath(t.root, stringArg(args, "file_path"))
}

func (t *ReadTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.TargetPath(args)
	if err != nil {
		return "", err
	}
	offset := intArg(args, "offset", 1)
	limit := intArg(args, "limit", defaultReadLimit)
	if limit <= 0 {
		limit = defaultReadLimit
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if len(lines) >= limit {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%6d\t%s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(lines) == 0 {
		return "(empty file)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// WriteTool creates or overwrites a file.
type WriteTool struct {
	root string
}

func NewWriteTool(root string) *WriteTool { return &WriteTool{root: root} }

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating it and any parent directories if needed. Overwrites existing content."
}

func (t *WriteTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"file_path": map[string]any{"type": "string", "description": "Path to the file to write"},
		"content":   map[string]any{"type": "string", "description": "Full content to write"},
	}, "file_path", "content")
}

func (t *WriteTool) Risk() permission.RiskClass { return permission.RiskMutating }

func (t *WriteTool) TargetPath(args map[string]any) (string, error) {
	return resolvePath(t.root, stringArg(args, "file_path"))
}

func (t *WriteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.TargetPath(args)
	if err != nil {
		return "", err
	}
	content := stringArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// EditTool replaces an exact string occurrence within a file.
type EditTool struct {
	root string
}

func NewEditTool(root string) *EditTool { return &EditTool{root: root} }

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match exactly once unless replace_all is set."
}

func (t *EditTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"file_path":   map[string]any{"type": "string", "description": "Path to the file to edit"},
		"old_string":  map[string]any{"type": "string", "description": "Exact text to replace"},
		"new_string":  map[string]any{"type": "string", "description": "Replacement text"},
		"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence"},
	}, "file_path", "old_string", "new_string")
}

func (t *EditTool) Risk() permission.RiskClass { return permission.RiskMutating }

func (t *EditTool) TargetPath(args map[string]any) (string, error) {
	return resolvePath(t.root, stringArg(args, "file_path"))
}

func (t *EditTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.TargetPath(args)
	if err != nil {
		return "", err
	}
	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")
	replaceAll := boolArg(args, "replace_all")

	if oldStr == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}
	if oldStr == newStr {
		return "", fmt.Errorf("old_string and new_string are identical")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in file")
	}
	if count > 1 && !replaceAll {
		return "", fmt.Errorf("old_string found %d times - use replace_all or provide more context", count)
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		updated = strings.Replace(content, oldStr, newStr, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if replaceAll {
		return fmt.Sprintf("replaced %d occurrences in %s", count, path), nil
	}
	return fmt.Sprintf("edited %s", path), nil
}

// ListTool lists directory entries.
type ListTool struct {
	root string
}

func NewListTool(root string) *ListTool { return &ListTool{root: root} }

func (t *ListTool) Name() string { return "ls" }

func (t *ListTool) Description() string {
	return "List the entries of a directory. Directories are suffixed with a slash."
}

func (t *ListTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Directory to list, defaults to the working directory"},
	})
}

func (t *ListTool) Risk() permission.RiskClass { return permission.RiskReadOnly }

func (t *ListTool) TargetPath(args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	return resolvePath(t.root, path)
}

func (t *ListTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.TargetPath(args)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
