package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"famcal/internal/notify"
	"famcal/internal/store"
)

// VoiceConfig holds spoken-alert preferences.
type VoiceConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// LeadTimeMinutes is how long before an item the lead alert fires.
	LeadTimeMinutes int  `yaml:"lead_time" json:"lead_time"`
	AtStart         bool `yaml:"at_start" json:"at_start"`
	// Language is a BCP 47 tag such as "en", "fr-FR".
	Language string `yaml:"language" json:"language"`

	// Command optionally names a TTS program (e.g. "espeak-ng"). Empty
	// means alerts are only logged.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	// GapSeconds is the minimum pause between two utterances.
	GapSeconds int `yaml:"gap_seconds" json:"gap_seconds"`
}

// Settings converts the voice section into the notifier's snapshot.
func (v VoiceConfig) Settings() notify.Settings {
	return notify.Settings{
		VoiceEnabled: v.Enabled,
		LeadTime:     time.Duration(v.LeadTimeMinutes) * time.Minute,
		AtStart:      v.AtStart,
		Language:     v.Language,
	}
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

	// Timezone is the IANA timezone used for day boundaries (e.g. "Europe/Paris").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *")
	// used to reload records from storage.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how far ahead the merged schedule reaches.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// Calendars lists the visible calendar names. Empty shows all.
	Calendars []string `yaml:"calendars" json:"calendars"`

	Storage store.Config `yaml:"storage" json:"storage"`
	Voice   VoiceConfig  `yaml:"voice" json:"voice"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		LogLevel:    "info",
		RefreshCron: "*/5 * * * *",
		HorizonDays: 7,
		Calendars:   []string{},
		Storage: store.Config{
			Driver: "sqlite",
			Path:   "/var/lib/famcal/famcal.db",
		},
		Voice: VoiceConfig{
			Enabled:         true,
			LeadTimeMinutes: 10,
			AtStart:         true,
			Language:        "en",
			GapSeconds:      2,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/5 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.Calendars == nil {
		c.Calendars = []string{}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/famcal/famcal.db"
	}
	if c.Voice.LeadTimeMinutes < 0 {
		c.Voice.LeadTimeMinutes = 0
	}
	if c.Voice.Language == "" {
		c.Voice.Language = "en"
	}
	if c.Voice.GapSeconds < 0 {
		c.Voice.GapSeconds = 0
	}
}

// Horizon returns HorizonDays as a duration.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ApplyEnv overrides selected fields from FAMCAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := env("FAMCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := env("FAMCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := env("FAMCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := env("FAMCAL_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := env("FAMCAL_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := env("FAMCAL_VOICE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Voice.Enabled = b
		}
	}
	if v := env("FAMCAL_VOICE_LANGUAGE"); v != "" {
		c.Voice.Language = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
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
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML bytes and normalizes the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".famcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
