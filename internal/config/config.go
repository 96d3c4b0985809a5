package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxBackups     = 10
	MaxBackupsLimit       = 100
	DefaultPollIntervalMs = 500
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 7788
	DefaultLogLevel       = "info"
	DefaultCooldownMs     = 2000
)

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	BackupRoot string `json:"backup_root" yaml:"backup_root"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	// IndexPath defaults to <backup_root>/tracked_files.json.
	IndexPath string `json:"index_path" yaml:"index_path"`
	// JournalDir defaults to <backup_root>/journal.
	JournalDir string `json:"journal_dir" yaml:"journal_dir"`
	// JournalRetentionDays drops older journal entries at startup; 0 keeps all.
	JournalRetentionDays int `json:"journal_retention_days" yaml:"journal_retention_days"`
	PollIntervalMs       int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	// CooldownMs is the minimum gap between two change reports for a file.
	CooldownMs int `json:"cooldown_ms" yaml:"cooldown_ms"`
	// Username is the acting user for audit lines.
	Username string `json:"username" yaml:"username"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Policy is the retention setting handed to the backup store.
type Policy struct {
	MaxBackups int
}

func (c *Config) Policy() Policy {
	return Policy{MaxBackups: c.MaxBackups}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// JournalRetention is zero when journal entries are kept forever.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionDays) * 24 * time.Hour
}

// AuditLogPath is the append-only error log under the backup root.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.BackupRoot, "logs", "error_log.txt")
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Path returns the config file location, honouring INVENI_CONFIG.
func Path() string {
	if p := os.Getenv("INVENI_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".inveni", "config.json")
}

func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a JSON or YAML (by extension) config file and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing json config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.BackupRoot == "" {
		return fmt.Errorf("backup_root is required")
	}
	if c.MaxBackups < 1 || c.MaxBackups > MaxBackupsLimit {
		return fmt.Errorf("max_backups must be between 1 and %d, got %d", MaxBackupsLimit, c.MaxBackups)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.CooldownMs < 0 {
		return fmt.Errorf("cooldown_ms cannot be negative")
	}
	if c.JournalRetentionDays < 0 {
		return fmt.Errorf("journal_retention_days cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BackupRoot == "" {
		c.BackupRoot = filepath.Join(homeDir(), ".inveni", "backups")
	}
	c.BackupRoot = filepath.Clean(c.BackupRoot)
	if c.MaxBackups == 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.BackupRoot, "tracked_files.json")
	}
	if c.JournalDir == "" {
		c.JournalDir = filepath.Join(c.BackupRoot, "journal")
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.CooldownMs == 0 {
		c.CooldownMs = DefaultCooldownMs
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Username == "" {
		c.Username = currentUsername()
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown_user"
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}
