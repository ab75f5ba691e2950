package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pilot"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage pilot configuration.

Running bare 'pilot config' is the same as 'pilot config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# pilot configuration
# See: pilot config show (for effective values and sources)

# SQLite database path (default: ~/.config/pilot/pilot.db)
# db_path: {{ .DBPath }}

anthropic:
  # API key; leave empty to use ANTHROPIC_API_KEY from the environment
  api_key: ""

  # Model for reasoning and summarization
  model: "{{ .Model }}"

  # Max tokens per completion (default: 8192)
  max_tokens: {{ .MaxTokens }}

engine:
  # Reasoning/action cycles before a session gives up (default: 50)
  max_cycles: {{ .MaxCycles }}

  # Concurrent tool executions per batch (default: 4)
  workers: {{ .Workers }}

compaction:
  # Approximate model context window in tokens
  context_budget: {{ .ContextBudget }}

  # Fraction of the budget that triggers summarization
  threshold: {{ .Threshold }}

permissions:
  # Rules: "read", "write(docs/**)", "bash(git:*)". Deny always wins.
  allow:
    - todo
  deny: []

  # Run read-only tools without asking (default: true)
  auto_approve_read_only: {{ .AutoApproveReadOnly }}
`

type configTemplateData struct {
	DBPath              string
	Model               string
	MaxTokens           int
	MaxCycles           int
	Workers             int
	ContextBudget       int
	Threshold           float64
	AutoApproveReadOnly bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data := configTemplateData{
		DBPath:              viper.GetString("db_path"),
		Model:               viper.GetString("anthropic.model"),
		MaxTokens:           viper.GetInt("anthropic.max_tokens"),
		MaxCycles:           viper.GetInt("engine.max_cycles"),
		Workers:             viper.GetInt("engine.workers"),
		ContextBudget:       viper.GetInt("compaction.context_budget"),
		Threshold:           viper.GetFloat64("compaction.threshold"),
		AutoApproveReadOnly: viper.GetBool("permissions.auto_approve_read_only"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "PILOT_DB_PATH"},
	{Key: "anthropic.model", EnvVar: "PILOT_ANTHROPIC_MODEL"},
	{Key: "anthropic.max_tokens", EnvVar: "PILOT_ANTHROPIC_MAX_TOKENS"},
	{Key: "engine.max_cycles", EnvVar: "PILOT_ENGINE_MAX_CYCLES"},
	{Key: "engine.workers", EnvVar: "PILOT_ENGINE_WORKERS"},
	{Key: "compaction.context_budget", EnvVar: "PILOT_COMPACTION_CONTEXT_BUDGET"},
	{Key: "compaction.threshold", EnvVar: "PILOT_COMPACTION_THRESHOLD"},
	{Key: "permissions.auto_approve_read_only", EnvVar: "PILOT_PERMISSIONS_AUTO_APPROVE_READ_ONLY"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-36s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'pilot config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
