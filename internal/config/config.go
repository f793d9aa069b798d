package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	ProviderTimetable = "timetable"
	ProviderICS       = "ics"
)

// EntryConfig is one daily event of the fixed timetable.
type EntryConfig struct {
	Name string `yaml:"name" json:"name"`
	// Time is local wall-clock "HH:MM".
	Time string `yaml:"time" json:"time"`
	// AdjustMinutes shifts the time; negative moves it earlier.
	AdjustMinutes int `yaml:"adjust_minutes,omitempty" json:"adjust_minutes,omitempty"`
}

// OverrideConfig replaces an entry's time on the days its RRULE matches.
type OverrideConfig struct {
	// Event is the timetable entry replaced, or the name of an extra event.
	Event string `yaml:"event" json:"event"`
	// Label optionally renames the event on matching days.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
	Time  string `yaml:"time" json:"time"`
	// RRule selects the days, e.g. "FREQ=WEEKLY;BYDAY=FR".
	RRule string `yaml:"rrule" json:"rrule"`
}

// ICSConfig describes a single ICS timetable feed.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// RedisConfig enables the Redis pub/sub push source when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
}

// PushConfig lists the sources that can invalidate the schedule.
type PushConfig struct {
	Redis RedisConfig `yaml:"redis" json:"redis"`
	// Cron holds five-field cron expressions evaluated in Timezone.
	Cron []string `yaml:"cron" json:"cron"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone defining calendar days (e.g. "Asia/Riyadh").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Tick is the countdown period as a Go duration string.
	Tick string `yaml:"tick" json:"tick"`

	// Provider selects the schedule source: "timetable" or "ics".
	Provider string `yaml:"provider" json:"provider"`

	Timetable []EntryConfig    `yaml:"timetable" json:"timetable"`
	Overrides []OverrideConfig `yaml:"overrides" json:"overrides"`

	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// Reminders maps an event name to minutes of notice before it.
	Reminders map[string]int `yaml:"reminders" json:"reminders"`

	Push PushConfig `yaml:"push" json:"push"`

	// StorePath is the SQLite database keeping last-good schedules and history.
	StorePath string `yaml:"store_path" json:"store_path"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultTimetable() []EntryConfig {
	return []EntryConfig{
		{Name: "Fajr", Time: "05:00"},
		{Name: "Dhuhr", Time: "12:15"},
		{Name: "Asr", Time: "15:30"},
		{Name: "Maghrib", Time: "18:00"},
		{Name: "Isha", Time: "19:30"},
	}
}

func defaultOverrides() []OverrideConfig {
	return []OverrideConfig{
		{Event: "Dhuhr", Label: "Jumuah", Time: "13:00", RRule: "FREQ=WEEKLY;BYDAY=FR"},
	}
}

func defaultReminders() map[string]int {
	return map[string]int{
		"Fajr":    10,
		"Dhuhr":   10,
		"Jumuah":  30,
		"Asr":     10,
		"Maghrib": 10,
		"Isha":    10,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		LogLevel:    "info",
		Tick:        "1s",
		Provider:    ProviderTimetable,
		Timetable:   defaultTimetable(),
		Overrides:   defaultOverrides(),
		ICS:         []ICSConfig{},
		ICSCacheDir: "/var/lib/muezzin/ics-cache",
		Reminders:   defaultReminders(),
		Push: PushConfig{
			Redis: RedisConfig{Channel: "muezzin:schedule"},
			Cron:  []string{"0 0 * * *"},
		},
		StorePath: "/var/lib/muezzin/muezzin.db",
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
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
	if c.Tick == "" {
		c.Tick = def.Tick
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderTimetable
	}
	if len(c.Timetable) == 0 {
		c.Timetable = defaultTimetable()
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
	if c.Reminders == nil {
		c.Reminders = map[string]int{}
	}
	if c.Push.Redis.Channel == "" {
		c.Push.Redis.Channel = def.Push.Redis.Channel
	}
	if c.Push.Cron == nil {
		c.Push.Cron = def.Push.Cron
	}
	if c.StorePath == "" {
		c.StorePath = def.StorePath
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.TickInterval(); err != nil {
		return err
	}
	switch c.Provider {
	case ProviderTimetable:
	case ProviderICS:
		if len(c.ICS) == 0 {
			return errors.New("provider ics needs at least one ics source")
		}
		for _, src := range c.ICS {
			if strings.TrimSpace(src.URL) == "" {
				return fmt.Errorf("ics source %s has no url", src.ID)
			}
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	for name, m := range c.Reminders {
		if m < 0 {
			return fmt.Errorf("reminder for %s is negative", name)
		}
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TickInterval parses Tick.
func (c *Config) TickInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Tick)
	if err != nil {
		return 0, fmt.Errorf("tick %q: %w", c.Tick, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick %q must be positive", c.Tick)
	}
	return d, nil
}

// ReminderLeads converts Reminders to durations, skipping zero entries.
func (c *Config) ReminderLeads() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Reminders))
	for name, m := range c.Reminders {
		if m > 0 {
			out[name] = time.Duration(m) * time.Minute
		}
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".muezzin-config-*.tmp")
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
