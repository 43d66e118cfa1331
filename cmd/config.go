package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configDirFunc returns the config directory. Overridable in tests.
var configDirFunc = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tracker"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tracker configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  configInitRun,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration and where each value comes from",
	RunE:  configShowRun,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE:  configEditRun,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

const defaultConfigTemplate = `# tracker configuration
# Values can also be set via TRACKER_* environment variables,
# e.g. TRACKER_DB_PATH or TRACKER_USER_EMAIL.

# Identity used by CLI commands that create or modify issues.
user:
  email: ""

# Where the sqlite database lives.
# db_path: ~/.config/tracker/tracker.db

server:
  addr: ":8080"

session:
  max_age_hours: 720

# Anthropic API access for LLM-assisted triage (optional).
anthropic:
  api_key: ""
  model: "claude-haiku-4-5-20251001"
`

func configInitRun(cmd *cobra.Command, args []string) error {
	configDir, err := configDirFunc()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		ui.Warning("Config file already exists: %s", configPath)
		return nil
	}

	if ui.DryRun {
		ui.DryRunMsg("would write %s", configPath)
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Created %s", configPath)
	return nil
}

// configKeys are the settings surfaced by `config show`, in display order.
var configKeys = []string{
	"user.email",
	"db_path",
	"state_dir",
	"server.addr",
	"session.max_age_hours",
	"anthropic.api_key",
	"anthropic.model",
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if file := viper.ConfigFileUsed(); file != "" {
		ui.Info("Config file: %s", file)
	} else {
		ui.Info("Config file: (none)")
	}

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, key := range configKeys {
		value := viper.GetString(key)
		if key == "anthropic.api_key" && value != "" {
			value = redactSecret(value)
		}
		table.Append([]string{key, value, detectSource(key)})
	}
	return table.Render()
}

// detectSource reports where a config value came from: env, file, or default.
func detectSource(key string) string {
	envKey := "TRACKER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if _, ok := os.LookupEnv(envKey); ok {
		return "env"
	}
	if viper.InConfig(key) {
		return "file"
	}
	return "default"
}

func redactSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func configEditRun(cmd *cobra.Command, args []string) error {
	configDir, err := configDirFunc()
	if err != nil {
		return err
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("no config file at %s (run `tracker config init` first)", configPath)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	editCmd := exec.Command(editor, configPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
