package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pilotdev/pilot/internal/mcp"
	"github.com/pilotdev/pilot/internal/output"
	"github.com/pilotdev/pilot/internal/permission"
	"github.com/pilotdev/pilot/internal/tools"
)

var toolsDir string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the agent",
	Long: `List builtin tools plus any MCP servers configured for the working
directory. MCP tools are listed from config without connecting; run a
session to see what each server actually exposes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return toolsRun()
	},
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsDir, "dir", "d", "", "Working directory (default: current directory)")
	rootCmd.AddCommand(toolsCmd)
}

func toolsRun() error {
	dir := toolsDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = cwd
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, dir); err != nil {
		return err
	}

	table := ui.Table([]string{"Tool", "Risk", "Description"})
	for _, t := range registry.List() {
		table.Append([]string{
			output.Cyan(t.Name()),
			riskColor(t.Risk()),
			truncate(t.Description(), 70),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	configs, err := mcp.LoadConfigs(dir)
	if err != nil {
		return err
	}
	if len(configs) > 0 {
		ui.Info("MCP servers:")
		srvTable := ui.Table([]string{"Server", "Command"})
		for _, cfg := range configs {
			srvTable.Append([]string{output.Cyan(cfg.Name), cfg.Command})
		}
		if err := srvTable.Render(); err != nil {
			return err
		}
	}
	return nil
}

func riskColor(risk permission.RiskClass) string {
	switch risk {
	case permission.RiskReadOnly:
		return output.Green(string(risk))
	case permission.RiskMutating:
		return output.Yellow(string(risk))
	case permission.RiskExecute:
		return output.Red(string(risk))
	default:
		return string(risk)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
