package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pilotdev/pilot/internal/permission"
	"github.com/pilotdev/pilot/internal/tools"
)

// caller is the slice of the MCP client the tool adapter needs.
type caller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Manager owns the connections to every configured server for one
// session and closes them together.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*client.Client
	tools   []tools.Tool
}

// NewManager creates a manager with no connections.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*client.Client)}
}

// Connect starts the server process, runs the initialize handshake, and
// adapts its tools. A server that fails to connect is skipped by the
// caller, not fatal to the session.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start mcp server %s: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "pilot", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("list tools from %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[cfg.Name]; exists {
		_ = c.Close()
		return fmt.Errorf("mcp server %s already connected", cfg.Name)
	}
	m.clients[cfg.Name] = c
	for _, t := range listed.Tools {
		m.tools = append(m.tools, newRemoteTool(cfg.Name, t, c))
	}
	return nil
}

// Tools returns the adapted tools from every connected server, sorted by
// name.
func (m *Manager) Tools() []tools.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tools.Tool, len(m.tools))
	copy(out, m.tools)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Register adds every adapted tool to the session registry.
func (m *Manager) Register(r *tools.Registry) error {
	for _, t := range m.Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down every server connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		_ = c.Close()
	}
	m.clients = make(map[string]*client.Client)
	m.tools = nil
}

// remoteTool adapts one server tool into the registry contract. Remote
// tools always carry the execute risk class: the engine cannot see what
// the server does, so they are never auto-approved as read-only.
type remoteTool struct {
	server string
	name   string
	tool   mcp.Tool
	caller caller
}

func newRemoteTool(server string, t mcp.Tool, c caller) *remoteTool {
	return &remoteTool{
		server: server,
		name:   ToolName(server, t.Name),
		tool:   t,
		caller: c,
	}
}

// ToolName builds the registry name for a server tool.
func ToolName(server, tool string) string {
	return "mcp__" + server + "__" + tool
}

// ServerName extracts the server part of an adapted tool name, "" if the
// name is not an adapted one.
func ServerName(toolName string) string {
	rest, ok := strings.CutPrefix(toolName, "mcp__")
	if !ok {
		return ""
	}
	server, _, ok := strings.Cut(rest, "__")
	if !ok {
		return ""
	}
	return server
}

func (t *remoteTool) Name() string { return t.name }

func (t *remoteTool) Description() string {
	desc := t.tool.Description
	if desc == "" {
		desc = "remote tool " + t.tool.Name
	}
	return fmt.Sprintf("[%s] %s", t.server, desc)
}

func (t *remoteTool) InputSchema() map[string]any {
	schema := map[string]any{"type": "object"}
	if t.tool.InputSchema.Properties != nil {
		schema["properties"] = t.tool.InputSchema.Properties
	}
	if len(t.tool.InputSchema.Required) > 0 {
		schema["required"] = t.tool.InputSchema.Required
	}
	return schema
}

func (t *remoteTool) Risk() permission.RiskClass { return permission.RiskExecute }

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args

	result, err := t.caller.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", t.tool.Name, t.server, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("%s reported an error: %s", t.name, sb.String())
	}
	return sb.String(), nil
}
