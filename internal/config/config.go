// Package config provides configuration management for awe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// AweDir is the awe configuration directory
	AweDir = ".awe"
)

// Config represents the awe engine configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	// MaxConcurrentRunningTasks bounds parallel running tasks.
	MaxConcurrentRunningTasks int `yaml:"max_concurrent_running_tasks"`

	// ProviderCommands maps a provider key to the base argv of its CLI.
	// e.g. {"claude": ["claude", "-p", "--dangerously-skip-permissions"]}
	ProviderCommands map[string][]string `yaml:"provider_commands,omitempty"`

	// Storage settings
	DBPath       string `yaml:"db_path"`
	ArtifactRoot string `yaml:"artifact_root"`

	// Execution settings
	PhaseTimeout   time.Duration `yaml:"phase_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	TimeoutRetries int           `yaml:"timeout_retries"`

	// DryRun replaces agent invocations with canned passing responses.
	DryRun bool `yaml:"dry_run"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, AweDir)
	return &Config{
		Version:                   1,
		MaxConcurrentRunningTasks: 2,
		ProviderCommands: map[string][]string{
			"claude": {"claude", "-p", "--dangerously-skip-permissions"},
			"codex":  {"codex", "exec", "--full-auto"},
			"gemini": {"gemini", "--approval-mode", "yolo"},
		},
		DBPath:         filepath.Join(base, "awe.db"),
		ArtifactRoot:   filepath.Join(base, "threads"),
		PhaseTimeout:   10 * time.Minute,
		CommandTimeout: 10 * time.Minute,
		TimeoutRetries: 1,
	}
}

// Path returns the config file path for a project directory. When the
// project has no .awe directory the user-level config is returned.
func Path(projectPath string) string {
	if projectPath != "" {
		local := filepath.Join(projectPath, AweDir, ConfigFileName)
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, AweDir, ConfigFileName)
}

// Load reads the config for a project, falling back to defaults when no
// file exists. Fields absent from the file keep their default values.
func Load(projectPath string) (*Config, error) {
	cfg := Default()
	path := Path(projectPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.MaxConcurrentRunningTasks < 1 {
		cfg.MaxConcurrentRunningTasks = 1
	}
	return cfg, nil
}

// Save writes the config to the given path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
