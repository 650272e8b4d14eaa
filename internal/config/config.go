package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	appLog "taskcal/internal/log"
)

// UserConfig is one HTTP Basic Auth account. The username doubles as the
// owner id of the user's tasks.
type UserConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CalendarConfig bounds the work done for a single calendar request.
type CalendarConfig struct {
	// MaxTasks caps how many tasks one request expands.
	MaxTasks int `yaml:"max_tasks" json:"max_tasks"`

	// MaxOccurrencesPerTask is the per-task safety cap of the expander.
	MaxOccurrencesPerTask int `yaml:"max_occurrences_per_task" json:"max_occurrences_per_task"`

	// MaxWindowDays rejects query windows longer than this many days.
	MaxWindowDays int `yaml:"max_window_days" json:"max_window_days"`
}

// ReminderConfig drives the background reminder scan.
type ReminderConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ScanCron is a standard 5-field cron expression (e.g. "*/1 * * * *").
	ScanCron string `yaml:"scan_cron" json:"scan_cron"`

	// MinutesBefore is how far ahead of an occurrence's due time the
	// reminder fires.
	MinutesBefore int `yaml:"minutes_before" json:"minutes_before"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which recurrence is expanded and
	// occurrences are reported (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// ICSCacheDir holds HTTP cache entries for ICS imports by URL.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// DefaultUser owns every request when no Users are configured.
	DefaultUser string `yaml:"default_user" json:"default_user"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Reminder ReminderConfig `yaml:"reminder" json:"reminder"`

	// Users, if non-empty, enables HTTP Basic Authentication on all
	// endpoints except /health.
	Users []UserConfig `yaml:"users,omitempty" json:"users,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:4000",
		Timezone:    "UTC",
		LogLevel:    "info",
		DBPath:      "./data/taskcal.db",
		ICSCacheDir: "./data/ics-cache",
		DefaultUser: "default",
		Calendar: CalendarConfig{
			MaxTasks:              500,
			MaxOccurrencesPerTask: 365,
			MaxWindowDays:         366,
		},
		Reminder: ReminderConfig{
			Enabled:       true,
			ScanCron:      "*/1 * * * *",
			MinutesBefore: 15,
		},
		Users: []UserConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
	if c.DefaultUser == "" {
		c.DefaultUser = def.DefaultUser
	}
	if c.Calendar.MaxTasks <= 0 {
		c.Calendar.MaxTasks = def.Calendar.MaxTasks
	}
	if c.Calendar.MaxOccurrencesPerTask <= 0 {
		c.Calendar.MaxOccurrencesPerTask = def.Calendar.MaxOccurrencesPerTask
	}
	if c.Calendar.MaxWindowDays <= 0 {
		c.Calendar.MaxWindowDays = def.Calendar.MaxWindowDays
	}
	if c.Reminder.ScanCron == "" {
		c.Reminder.ScanCron = def.Reminder.ScanCron
	}
	if c.Reminder.MinutesBefore <= 0 {
		c.Reminder.MinutesBefore = def.Reminder.MinutesBefore
	}
	if c.Users == nil {
		c.Users = []UserConfig{}
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", c.Timezone)
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether running on defaults is acceptable.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Keys absent from the file keep their defaults, which matters for
	// booleans such as reminder.enabled.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
