package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ProjectRoot string `toml:"project_root"`
	Scan        Scan   `toml:"scan"`
	Deep        Deep   `toml:"deep"`
	Relay       Relay  `toml:"relay"`
	Limits      Limits `toml:"limits"`
	Watch       Watch  `toml:"watch"`
}

type Scan struct {
	ExcludeDirs  []string `toml:"exclude_dirs"`
	ExcludeFiles []string `toml:"exclude_files"`
	Workers      int      `toml:"workers"`
}

// Deep configures the optional deep-analysis collaborator. Disabled by
// default; the scan pipeline is complete without it.
type Deep struct {
	Enabled  bool          `toml:"enabled"`
	Endpoint string        `toml:"endpoint"`
	Token    string        `toml:"token"`
	Timeout  time.Duration `toml:"timeout"`
}

type Relay struct {
	Listen           string  `toml:"listen"`
	Token            string  `toml:"token"`
	RatePerHour      int     `toml:"rate_per_hour"`
	ProviderEndpoint string  `toml:"provider_endpoint"`
	ProviderTimeout  time.Duration `toml:"provider_timeout"`
}

// Limits maps operation names to hourly request budgets.
type Limits struct {
	Audit        int `toml:"audit"`
	SecurityScan int `toml:"security_scan"`
	DeepAnalysis int `toml:"deep_analysis"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ProjectRoot == "" {
		c.ProjectRoot = "."
	}
	if len(c.Scan.ExcludeDirs) == 0 {
		c.Scan.ExcludeDirs = []string{".git", ".kylo", "__pycache__", ".venv", "venv", "node_modules"}
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 4
	}
	if c.Deep.Endpoint == "" {
		c.Deep.Endpoint = "http://127.0.0.1:8787/v1/analyze"
	}
	if c.Deep.Timeout == 0 {
		c.Deep.Timeout = 20 * time.Second
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = ":8787"
	}
	if c.Relay.RatePerHour <= 0 {
		c.Relay.RatePerHour = 100
	}
	if c.Relay.ProviderTimeout == 0 {
		c.Relay.ProviderTimeout = 30 * time.Second
	}
	if c.Limits.Audit <= 0 {
		c.Limits.Audit = 200
	}
	if c.Limits.SecurityScan <= 0 {
		c.Limits.SecurityScan = 100
	}
	if c.Limits.DeepAnalysis <= 0 {
		c.Limits.DeepAnalysis = 50
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}
