package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pilotdev/pilot/internal/permission"
)

const (
	defaultBashTimeout = 2 * time.Minute
	maxBashTimeout     = 10 * time.Minute
	maxBashOutput      = 30000
)

// BashTool runs a shell command in the working directory.
type BashTool struct {
	root string
}

func NewBashTool(root string) *BashTool { return &BashTool{root: root} }

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the working directory and return its combined output. Long output is truncated."
}

func (t *BashTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "Shell command to run"},
		"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds"},
	}, "command")
}

func (t *BashTool) Risk() permission.RiskClass { return permission.RiskExecute }

func (t *BashTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return "", fmt.Errorf("command argument is required")
	}

	timeout := defaultBashTimeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := buf.String()
	if len(output) > maxBashOutput {
		output = output[:maxBashOutput] + "\n... (output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s:\n%s", timeout, output)
	}
	if runErr != nil {
		if output == "" {
			return "", fmt.Errorf("command failed: %w", runErr)
		}
		return "", fmt.Errorf("command failed (%v):\n%s", runErr, output)
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
