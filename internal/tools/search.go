package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pilotdev/pilot/internal/permission"
)

const maxSearchResults = 200

// GlobTool matches file paths against a doublestar pattern.
type GlobTool struct {
	root string
}

func NewGlobTool(root string) *GlobTool { return &GlobTool{root: root} }

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern such as '**/*.go'. Results are sorted by modification time, newest last."
}

func (t *GlobTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": map[string]any{"type": "string", "description": "Doublestar glob pattern"},
		"path":    map[string]any{"type": "string", "description": "Directory to search, defaults to the working directory"},
	}, "pattern")
}

func (t *GlobTool) Risk() permission.RiskClass { return permission.RiskReadOnly }

func (t *GlobTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern argument is required")
	}
	base := stringArg(args, "path")
	if base == "" {
		base = t.root
	}
	dir, err := resolvePath(t.root, base)
	if err != nil {
		return "", err
	}

	type match struct {
		path    string
		modTime int64
	}
	var matches []match

	fsys := os.DirFS(dir)
	err = doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(path, ".git/") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, match{path: path, modTime: info.ModTime().UnixNano()})
		if len(matches) >= maxSearchResults {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("glob %q: %w", pattern, err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime < matches[j].modTime })

	if len(matches) == 0 {
		return "no files matched", nil
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	return strings.Join(paths, "\n"), nil
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	root string
}

func NewGrepTool(root string) *GrepTool { return &GrepTool{root: root} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression. Returns matching lines as path:line:text. An optional glob narrows which files are searched."
}

func (t *GrepTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": map[string]any{"type": "string", "description": "Go regular expression"},
		"path":    map[string]any{"type": "string", "description": "Directory to search, defaults to the working directory"},
		"glob":    map[string]any{"type": "string", "description": "Only search files matching this glob"},
	}, "pattern")
}

func (t *GrepTool) Risk() permission.RiskClass { return permission.RiskReadOnly }

func (t *GrepTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern argument is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile pattern: %w", err)
	}

	base := stringArg(args, "path")
	if base == "" {
		base = t.root
	}
	dir, err := resolvePath(t.root, base)
	if err != nil {
		return "", err
	}
	fileGlob := stringArg(args, "glob")

	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		if fileGlob != "" {
			ok, err := doublestar.Match(fileGlob, filepath.ToSlash(rel))
			if err != nil || !ok {
				return nil
			}
		}
		matches, err := grepFile(path, rel, re)
		if err != nil {
			return nil
		}
		out = append(out, matches...)
		if len(out) >= maxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search %q: %w", pattern, err)
	}

	if len(out) == 0 {
		return "no matches", nil
	}
	if len(out) > maxSearchResults {
		out = out[:maxSearchResults]
	}
	return strings.Join(out, "\n"), nil
}

func grepFile(path, rel string, re *regexp.Regexp) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			// Binary file, skip the rest.
			return matches, nil
		}
		if re.MatchString(line) {
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNum, line))
		}
	}
	return matches, scanner.Err()
}
