package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Git           GitConfig           `toml:"git"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds storage and logging settings
type GeneralConfig struct {
	DatabaseDriver string `toml:"database_driver"`
	DatabasePath   string `toml:"database_path"` // file path for sqlite, DSN for postgres
	WorkDir        string `toml:"work_dir"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
}

// ScheduleConfig holds planning defaults and dispatcher tuning
type ScheduleConfig struct {
	ActiveStart         string   `toml:"active_start"`
	ActiveEnd           string   `toml:"active_end"`
	Times               []string `toml:"times,omitempty"`
	Frequency           string   `toml:"frequency"`
	MessageTemplates    []string `toml:"message_templates"`
	Files               []string `toml:"files"`
	Tick                string   `toml:"tick"`
	MaxParallel         int      `toml:"max_parallel"`
	ExecutionTimeoutSec int      `toml:"execution_timeout_sec"`
}

// GitConfig holds commit identity and credential settings
type GitConfig struct {
	Branch      string `toml:"branch,omitempty"`
	AuthorName  string `toml:"author_name"`
	AuthorEmail string `toml:"author_email"`
	TokenEnv    string `toml:"token_env"`
	EnvFile     string `toml:"env_file,omitempty"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabaseDriver: "sqlite",
			DatabasePath:   filepath.Join(home, ".streak-keeper", "commits.db"),
			WorkDir:        filepath.Join(home, ".streak-keeper", "work"),
			LogLevel:       "info",
			LogFormat:      "text",
		},
		Schedule: ScheduleConfig{
			ActiveStart:         "09:00",
			ActiveEnd:           "17:00",
			Frequency:           "daily",
			MessageTemplates:    []string{"Update {date}"},
			Files:               []string{"README.md"},
			Tick:                "@every 15s",
			MaxParallel:         2,
			ExecutionTimeoutSec: 120,
		},
		Git: GitConfig{
			AuthorName:  "streak-keeper",
			AuthorEmail: "streak-keeper@users.noreply.github.com",
			TokenEnv:    "GITHUB_TOKEN",
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	if cfg.General.DatabaseDriver != "postgres" {
		cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	}
	cfg.General.WorkDir = ExpandPath(cfg.General.WorkDir)
	cfg.Git.EnvFile = ExpandPath(cfg.Git.EnvFile)

	return cfg, nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExecutionTimeout returns the per-attempt timeout as a duration
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Schedule.ExecutionTimeoutSec) * time.Second
}

// Addr returns the listen address of the HTTP API
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// LocalConfigName is the per-directory config file searched by FindLocalConfig
const LocalConfigName = ".streak-keeper.toml"

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName and returns its path, or "" when none exists
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ResolvePath picks the config file to use: explicit path, then a local
// config, then the default location
func ResolvePath(explicit string) string {
	if explicit != "" {
		return ExpandPath(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return local
	}
	return DefaultConfigPath()
}

// LoadWithLocalFallback loads the config chosen by ResolvePath
func LoadWithLocalFallback(explicit string) (*Config, error) {
	return Load(ResolvePath(explicit))
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "streak-keeper", "config.toml")
}
