package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskbook/session"
)

// Config represents the complete riskbook configuration
type Config struct {
	Sessions []session.Config `json:"sessions" yaml:"sessions"`
	Journal  JournalConfig    `json:"journal" yaml:"journal"`
	Log      LogConfig        `json:"log" yaml:"log"`
	Metrics  MetricsConfig    `json:"metrics" yaml:"metrics"`
	Ledger   LedgerConfig     `json:"ledger" yaml:"ledger"`
}

// JournalConfig selects the persistence store and optional CSV exports
type JournalConfig struct {
	Type         string `json:"type" yaml:"type"` // "sqlite", "postgres" or "memory"
	DBPath       string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	PostgresDSN  string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
	TradesCSV    string `json:"trades_csv,omitempty" yaml:"trades_csv,omitempty"`
	SnapshotsCSV string `json:"snapshots_csv,omitempty" yaml:"snapshots_csv,omitempty"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	JSON    bool   `json:"json" yaml:"json"`
	NoColor bool   `json:"no_color" yaml:"no_color"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LedgerConfig controls retries of failed store writes
type LedgerConfig struct {
	RetryAttempts int    `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  string `json:"retry_backoff" yaml:"retry_backoff"` // e.g. "50ms"
}

// Backoff converts RetryBackoff to a time.Duration
func (l LedgerConfig) Backoff() (time.Duration, error) {
	if l.RetryBackoff == "" {
		return 0, nil
	}
	return time.ParseDuration(l.RetryBackoff)
}

// Environment variables read by ApplyEnv.
const (
	EnvJournalType = "RISKBOOK_JOURNAL_TYPE"
	EnvDBPath      = "RISKBOOK_DB_PATH"
	EnvPostgresDSN = "RISKBOOK_PG_DSN"
	EnvLogLevel    = "RISKBOOK_LOG_LEVEL"
	EnvMetricsAddr = "RISKBOOK_METRICS_ADDR"
	EnvCapital     = "RISKBOOK_INITIAL_CAPITAL"
)

// Load reads path (or starts from Default when path is empty), loads .env
// if present, applies RISKBOOK_* overrides and validates the result.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg = Default()
	} else if cfg, err = parseFile(path); err != nil {
		return nil, err
	}

	// a missing .env is fine
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = &Config{}
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv
// outside of tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvJournalType); v != "" {
		c.Journal.Type = strings.ToLower(v)
	}
	if v := getenv(EnvDBPath); v != "" {
		c.Journal.DBPath = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		c.Journal.PostgresDSN = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
	if v := getenv(EnvCapital); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCapital, err)
		}
		for i := range c.Sessions {
			c.Sessions[i].InitialCapital = capital
			if c.Sessions[i].CreatedAt.IsZero() {
				c.Sessions[i].CurrentCapital = capital
			}
		}
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine format by extension
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid. Sessions are checked after
// their defaults are filled in, so a file only needs id and capital.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.ID == "" {
			return fmt.Errorf("sessions[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate session id %q", s.ID)
		}
		seen[s.ID] = true
		if err := s.WithDefaults(time.Now()).Validate(); err != nil {
			return fmt.Errorf("sessions[%d]: %w", i, err)
		}
	}

	switch c.Journal.Type {
	case "memory":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			return fmt.Errorf("journal postgres_dsn required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'postgres' or 'memory'")
	}
	if (c.Journal.TradesCSV == "") != (c.Journal.SnapshotsCSV == "") {
		return fmt.Errorf("journal trades_csv and snapshots_csv must be set together")
	}

	if c.Ledger.RetryAttempts < 0 {
		return fmt.Errorf("ledger.retry_attempts must not be negative")
	}
	if d, err := c.Ledger.Backoff(); err != nil || d < 0 {
		return fmt.Errorf("ledger.retry_backoff %q is not a valid duration", c.Ledger.RetryBackoff)
	}
	return nil
}

// Session returns the configured session with the given id.
func (c *Config) Session(id string) (session.Config, bool) {
	for _, s := range c.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Config{}, false
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	s := session.Default(10000)
	s.ID = "paper-1"
	s.SupportedSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	return &Config{
		Sessions: []session.Config{s},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./riskbook.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Ledger: LedgerConfig{
			RetryAttempts: 3,
			RetryBackoff:  "50ms",
		},
	}
}
