// Package mcp connects to external MCP tool servers declared in config
// files and adapts their tools into the session registry.
package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig declares one stdio MCP server.
type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// LoadConfigs discovers server declarations for a session root. Project
// declarations live in <root>/.pilot/mcp/*.yaml, user-wide ones in
// ~/.config/pilot/mcp/*.yaml. Project declarations win on name clashes.
func LoadConfigs(root string) ([]ServerConfig, error) {
	dirs := []string{filepath.Join(root, ".pilot", "mcp")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "pilot", "mcp"))
	}

	seen := make(map[string]bool)
	var out []ServerConfig
	for _, dir := range dirs {
		configs, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, cfg := range configs {
			if seen[cfg.Name] {
				continue
			}
			seen[cfg.Name] = true
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func loadDir(dir string) ([]ServerConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp config dir %s: %w", dir, err)
	}

	var out []ServerConfig
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		cfg, err := parseConfig(path)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func parseConfig(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("read mcp config %s: %w", path, err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	if cfg.Name == "" {
		base := filepath.Base(path)
		cfg.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	if cfg.Command == "" {
		return ServerConfig{}, fmt.Errorf("mcp config %s: command is required", path)
	}
	return cfg, nil
}
