// Package config owns the typed configuration snapshot persisted under the
// config root, the encrypted secret store and on-demand backups.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// SchemaVersion is bumped whenever the on-disk layout changes; Load
	// refuses files from the future.
	SchemaVersion = 2

	FileName = "config.json"

	configFilePerms = 0o600
	configDirPerms  = 0o700
)

var (
	ErrSchemaTooNew    = errors.New("config schema version is newer than this build")
	errInvalidInterval = errors.New("probe interval must be at least 1s")
	errInvalidRecap    = errors.New("recap time must be HH:MM")
)

// Validator is implemented by configurations that can check themselves.
type Validator interface {
	Validate() error
}

// Duration wraps time.Duration with human-readable JSON encoding. Bare
// numbers are accepted as seconds for legacy config files.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}

		*d = Duration(tmp)

		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// General holds presentation settings for the operator UI.
type General struct {
	SiteName      string `json:"site_name"`
	Theme         string `json:"theme"`
	AdvancedTitle string `json:"advanced_title"`
}

// Alerts holds the monitoring cadence and alert channel switches.
type Alerts struct {
	ProbeInterval    Duration `json:"probe_interval"`
	FailureThreshold int      `json:"failure_threshold"`
	Popup            bool     `json:"popup"`
	Mail             bool     `json:"mail"`
	Telegram         bool     `json:"telegram"`
	MailRecap        bool     `json:"mail_recap"`
	DBExternal       bool     `json:"db_external"`
	TempAlert        bool     `json:"temp_alert"`
	TempHighC        float64  `json:"temp_high_c"`
	TempWarningC     float64  `json:"temp_warning_c"`
}

// Mail holds SMTP settings. The password lives in the secret store; the
// field here only carries legacy plaintext values until migration blanks it.
type Mail struct {
	Server     string   `json:"server"`
	Port       int      `json:"port"`
	Email      string   `json:"email"`
	Password   string   `json:"password,omitempty"`
	Recipients []string `json:"recipients"`
}

// Telegram holds bot settings. The token lives in the secret store.
type Telegram struct {
	Token   string   `json:"token,omitempty"`
	ChatIDs []string `json:"chat_ids"`
}

// MailRecap schedules the periodic digest: a HH:MM time of day plus one
// enable flag per weekday, Monday first.
type MailRecap struct {
	Time     string  `json:"time_hhmm"`
	Weekdays [7]bool `json:"weekdays"`
}

// Config is the full typed configuration. The scheduler holds an immutable
// snapshot; operator edits produce a new value saved atomically.
type Config struct {
	Schema    int       `json:"schema"`
	General   General   `json:"general"`
	Alerts    Alerts    `json:"alerts"`
	Mail      Mail      `json:"mail"`
	Telegram  Telegram  `json:"telegram"`
	MailRecap MailRecap `json:"mail_recap"`
	Sites     []string  `json:"sites"`
}

func Default() Config {
	return Config{
		Schema: SchemaVersion,
		General: General{
			SiteName: "NetVigil",
			Theme:    "dark",
		},
		Alerts: Alerts{
			ProbeInterval:    Duration(10 * time.Second),
			FailureThreshold: 3,
			Popup:            true,
			TempHighC:        65,
			TempWarningC:     55,
		},
		Mail: Mail{Port: 587},
		MailRecap: MailRecap{
			Time: "08:00",
		},
	}
}

func (c *Config) Validate() error {
	if time.Duration(c.Alerts.ProbeInterval) < time.Second {
		return errInvalidInterval
	}

	if c.Alerts.FailureThreshold < 1 {
		c.Alerts.FailureThreshold = 1
	}

	if c.MailRecap.Time != "" {
		if _, err := time.Parse("15:04", c.MailRecap.Time); err != nil {
			return fmt.Errorf("%w: %q", errInvalidRecap, c.MailRecap.Time)
		}
	}

	return nil
}

// LoadFile is a generic helper that loads a JSON file from path into the
// struct pointed to by dst.
func LoadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}

// Load reads the config from root, creating the default on first start.
func Load(root string) (Config, error) {
	if err := os.MkdirAll(root, configDirPerms); err != nil {
		return Config{}, fmt.Errorf("failed to create config root: %w", err)
	}

	path := filepath.Join(root, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(root, cfg); err != nil {
			return Config{}, err
		}

		return cfg, nil
	}

	var cfg Config
	if err := LoadFile(path, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Schema > SchemaVersion {
		return Config{}, fmt.Errorf("%w: %d", ErrSchemaTooNew, cfg.Schema)
	}

	if cfg.Schema < SchemaVersion {
		cfg.Schema = SchemaVersion
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory, fsync,
// rename over the old file.
func Save(root string, cfg Config) error {
	cfg.Schema = SchemaVersion

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomicWrite(filepath.Join(root, FileName), data, configFilePerms)
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
