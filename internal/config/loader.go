package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	globalConfigDir  = ".hoptrail"
	projectConfigDir = ".hoptrail"
	configFileName   = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath  string
	projectPath string
}

// NewLoader creates a new configuration loader
func NewLoader(projectDir string) (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Loader{
		globalPath:  filepath.Join(homeDir, globalConfigDir, configFileName),
		projectPath: filepath.Join(projectDir, projectConfigDir, configFileName),
	}, nil
}

// Load loads and merges configuration from all sources
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	projectCfg, err := l.loadFile(l.projectPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = mergeConfigs(cfg, projectCfg)
	}

	return cfg, nil
}

// LoadGlobalOnly loads configuration from the global config only, ignoring
// any project config. Daemon commands use this so a per-project override
// cannot redirect the shared history database.
func (l *Loader) LoadGlobalOnly() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	return l.loadFile(path)
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel: coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:  coalesce(override.Settings.LogFile, base.Settings.LogFile),
			Daemon:   mergeDaemonSettings(base.Settings.Daemon, override.Settings.Daemon),
			History:  mergeHistorySettings(base.Settings.History, override.Settings.History),
			Tracer:   mergeTracerSettings(base.Settings.Tracer, override.Settings.Tracer),
		},
	}

	return result
}

// mergeDaemonSettings merges daemon settings, with override taking precedence
// for set values. Since "not set" and "set to false" are indistinguishable
// for bools, Enabled/AutoStart only apply when any daemon field is set.
func mergeDaemonSettings(base, override DaemonSettings) DaemonSettings {
	result := base

	if override.Enabled || override.Port != 0 || override.AutoStart {
		result.Enabled = override.Enabled
		result.AutoStart = override.AutoStart
	}

	if override.Port != 0 {
		result.Port = override.Port
	}

	return result
}

func mergeHistorySettings(base, override HistorySettings) HistorySettings {
	result := base

	if override.AutoSave || override.StoragePath != "" || override.EntryTTL != "" ||
		override.MaxEntries != 0 || override.CleanupProbability != 0 {
		result.AutoSave = override.AutoSave
	}

	if override.StoragePath != "" {
		result.StoragePath = override.StoragePath
	}
	if override.EntryTTL != "" {
		result.EntryTTL = override.EntryTTL
	}
	if override.MaxEntries != 0 {
		result.MaxEntries = override.MaxEntries
	}
	if override.CleanupProbability != 0 {
		result.CleanupProbability = override.CleanupProbability
	}

	return result
}

func mergeTracerSettings(base, override TracerSettings) TracerSettings {
	result := base

	if override.Timeout != "" {
		result.Timeout = override.Timeout
	}
	if override.MaxHops != 0 {
		result.MaxHops = override.MaxHops
	}
	if override.UserAgent != "" {
		result.UserAgent = override.UserAgent
	}
	if override.Insecure {
		result.Insecure = true
	}

	return result
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// GlobalConfigPath returns the path to the global config file
func (l *Loader) GlobalConfigPath() string {
	return l.globalPath
}

// ProjectConfigPath returns the path to the project config file
func (l *Loader) ProjectConfigPath() string {
	return l.projectPath
}
