package config

// Config represents the complete hoptrail configuration
type Config struct {
	Version  string   `yaml:"version"`
	Settings Settings `yaml:"settings"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string          `yaml:"log_level"`
	LogFile  string          `yaml:"log_file,omitempty"`
	Daemon   DaemonSettings  `yaml:"daemon"`
	History  HistorySettings `yaml:"history"`
	Tracer   TracerSettings  `yaml:"tracer"`
}

// DaemonSettings configures the capture daemon
type DaemonSettings struct {
	Enabled   bool `yaml:"enabled"`
	Port      int  `yaml:"port"`
	AutoStart bool `yaml:"auto_start"`
}

// HistorySettings configures chain history persistence
type HistorySettings struct {
	AutoSave           bool    `yaml:"auto_save"`
	StoragePath        string  `yaml:"storage_path,omitempty"`
	EntryTTL           string  `yaml:"entry_ttl,omitempty"`
	MaxEntries         int     `yaml:"max_entries,omitempty"`
	CleanupProbability float64 `yaml:"cleanup_probability,omitempty"`
}

// TracerSettings configures the active redirect tracer
type TracerSettings struct {
	Timeout   string `yaml:"timeout,omitempty"`
	MaxHops   int    `yaml:"max_hops,omitempty"`
	UserAgent string `yaml:"user_agent,omitempty"`
	Insecure  bool   `yaml:"insecure,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
			Daemon: DaemonSettings{
				Enabled: true,
				Port:    8764,
			},
			History: HistorySettings{
				AutoSave:           true,
				EntryTTL:           "720h",
				MaxEntries:         1000,
				CleanupProbability: 0.1,
			},
			Tracer: TracerSettings{
				Timeout:   "10s",
				MaxHops:   20,
				UserAgent: "hoptrail/1.0",
			},
		},
	}
}
