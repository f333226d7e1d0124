package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify configuration",
	Long: `View or modify the engine configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  claudia-coder config set executor.command claude
  claudia-coder config set executor.concurrency 4
  claudia-coder config set session.max_sessions 200

Valid keys:
  data.dir                        - Where session state, the run ledger, and logs live
  session.max_sessions            - Max sessions kept on disk
  session.stale_age_minutes       - Age before a running session counts as stale (0 disables)
  session.history_limit           - Default session count for history queries
  executor.command                - Executable invoked per work packet
  executor.concurrency            - Packets executed in parallel (0 runs all at once)
  executor.fail_fast              - Stop launching packets after the first failure (true/false)
  executor.timeout_minutes        - Max runtime per packet (0 disables)
  server.addr                     - API listen address
  server.shutdown_timeout_seconds - Graceful shutdown wait
  logging.enabled                 - Debug logging on or off (true/false)
  logging.level                   - Log level: debug, info, warn, error
  logging.max_size_mb             - Log size before rotation
  logging.max_backups             - Rotated log files to keep`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/claudia-coder/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("data:")
	fmt.Printf("  dir: %s\n", cfg.Data.ResolveDir())

	fmt.Println("session:")
	fmt.Printf("  max_sessions: %d\n", cfg.Session.MaxSessions)
	fmt.Printf("  stale_age_minutes: %d\n", cfg.Session.StaleAgeMinutes)
	fmt.Printf("  history_limit: %d\n", cfg.Session.HistoryLimit)

	fmt.Println("executor:")
	fmt.Printf("  command: %s\n", cfg.Executor.Command)
	if len(cfg.Executor.Args) > 0 {
		fmt.Printf("  args: %s\n", strings.Join(cfg.Executor.Args, " "))
	}
	fmt.Printf("  concurrency: %d\n", cfg.Executor.Concurrency)
	fmt.Printf("  fail_fast: %v\n", cfg.Executor.FailFast)
	fmt.Printf("  timeout_minutes: %d\n", cfg.Executor.TimeoutMinutes)

	fmt.Println("server:")
	fmt.Printf("  addr: %s\n", cfg.Server.Addr)
	fmt.Printf("  shutdown_timeout_seconds: %d\n", cfg.Server.ShutdownTimeoutSeconds)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"data.dir":                        "string",
		"session.max_sessions":            "int",
		"session.stale_age_minutes":       "int",
		"session.history_limit":           "int",
		"executor.command":                "string",
		"executor.concurrency":            "int",
		"executor.fail_fast":              "bool",
		"executor.timeout_minutes":        "int",
		"server.addr":                     "string",
		"server.shutdown_timeout_seconds": "int",
		"logging.enabled":                 "bool",
		"logging.level":                   "string",
		"logging.max_size_mb":             "int",
		"logging.max_backups":             "int",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'claudia-coder config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		if key == "logging.level" && !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'claudia-coder config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Claudia Coder Configuration

# Where session state, the run ledger, and logs live
data:
  # Empty means ~/.claudia-coder
  dir: ""

# Session persistence and retention
session:
  # Maximum sessions kept on disk (running sessions always survive)
  max_sessions: 100
  # Running sessions older than this are marked failed on startup (0 disables)
  stale_age_minutes: 60
  # Default session count for history queries
  history_limit: 20

# Work packet execution
executor:
  # Executable invoked once per packet
  command: claude
  # Extra arguments passed before the packet environment
  args: []
  # Packets executed in parallel; 0 runs all at once
  concurrency: 1
  # Stop launching new packets after the first failure
  fail_fast: false
  # Maximum runtime per packet in minutes; 0 disables
  timeout_minutes: 0

# HTTP API server
server:
  addr: ":8844"
  shutdown_timeout_seconds: 10

# Debug logging
logging:
  enabled: true
  # debug, info, warn, or error
  level: info
  # Log file size before rotation
  max_size_mb: 10
  # Rotated files to keep
  max_backups: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/claudia-coder/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: CLAUDIA_* (e.g., CLAUDIA_EXECUTOR_COMMAND)")

	return nil
}
