// Package config loads the saver configuration from file, environment and
// flags through viper.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tuxx/fancysaver/internal/logger"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "FANCYSAVER"

// Configuration holds all settings. Durations are whole seconds except
// FadeTimeout, which is milliseconds.
type Configuration struct {
	LockAfter             int    `json:"lock_after" yaml:"lock_after" mapstructure:"lock_after"`
	SwitchGreeterDelay    int    `json:"switch_greeter_delay" yaml:"switch_greeter_delay" mapstructure:"switch_greeter_delay"`
	FadeEnabled           bool   `json:"fade_enabled" yaml:"fade_enabled" mapstructure:"fade_enabled"`
	FadeTimeout           int    `json:"fade_timeout" yaml:"fade_timeout" mapstructure:"fade_timeout"`
	HideCursor            bool   `json:"hide_cursor" yaml:"hide_cursor" mapstructure:"hide_cursor"`
	ShowContentOnActivate bool   `json:"show_content_on_activate" yaml:"show_content_on_activate" mapstructure:"show_content_on_activate"`
	LockPauseMedia        bool   `json:"lock_pause_media" yaml:"lock_pause_media" mapstructure:"lock_pause_media"`
	UnlockUnpauseMedia    bool   `json:"unlock_unpause_media" yaml:"unlock_unpause_media" mapstructure:"unlock_unpause_media"`
	PreLockCommand        string `json:"pre_lock_command" yaml:"pre_lock_command" mapstructure:"pre_lock_command"`
	PostLockCommand       string `json:"post_lock_command" yaml:"post_lock_command" mapstructure:"post_lock_command"`
	JournalEnabled        bool   `json:"journal_enabled" yaml:"journal_enabled" mapstructure:"journal_enabled"`
	JournalPath           string `json:"journal_path" yaml:"journal_path" mapstructure:"journal_path"`
	LogLevel              string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	DBusName              string `json:"dbus_name" yaml:"dbus_name" mapstructure:"dbus_name"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Configuration {
	return Configuration{
		LockAfter:             5,
		SwitchGreeterDelay:    10,
		FadeEnabled:           true,
		FadeTimeout:           3000,
		HideCursor:            true,
		ShowContentOnActivate: false,
		LockPauseMedia:        false, // Disabled by default
		UnlockUnpauseMedia:    false, // Disabled by default
		PreLockCommand:        "",
		PostLockCommand:       "",
		JournalEnabled:        true,
		JournalPath:           "",
		LogLevel:              "info",
		DBusName:              "org.fancysaver.ScreenSaver",
	}
}

// LockAfterDuration is LockAfter as a time.Duration.
func (c Configuration) LockAfterDuration() time.Duration {
	return time.Duration(c.LockAfter) * time.Second
}

// SwitchGreeterDelayDuration is SwitchGreeterDelay as a time.Duration.
func (c Configuration) SwitchGreeterDelayDuration() time.Duration {
	return time.Duration(c.SwitchGreeterDelay) * time.Second
}

// FadeTimeoutDuration is FadeTimeout as a time.Duration.
func (c Configuration) FadeTimeoutDuration() time.Duration {
	return time.Duration(c.FadeTimeout) * time.Millisecond
}

// DefaultDir returns ~/.config/fancysaver.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(homeDir, ".config", "fancysaver"), nil
}

// Loader reads the configuration through a private viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for path. With an empty path it looks for
// config.{json,yaml,toml} in DefaultDir. Environment variables prefixed
// FANCYSAVER_ override file values.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("lock_after", d.LockAfter)
	v.SetDefault("switch_greeter_delay", d.SwitchGreeterDelay)
	v.SetDefault("fade_enabled", d.FadeEnabled)
	v.SetDefault("fade_timeout", d.FadeTimeout)
	v.SetDefault("hide_cursor", d.HideCursor)
	v.SetDefault("show_content_on_activate", d.ShowContentOnActivate)
	v.SetDefault("lock_pause_media", d.LockPauseMedia)
	v.SetDefault("unlock_unpause_media", d.UnlockUnpauseMedia)
	v.SetDefault("pre_lock_command", d.PreLockCommand)
	v.SetDefault("post_lock_command", d.PostLockCommand)
	v.SetDefault("journal_enabled", d.JournalEnabled)
	v.SetDefault("journal_path", d.JournalPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("dbus_name", d.DBusName)
}

// Viper exposes the underlying instance so flags can be bound to keys.
func (l *Loader) Viper() *viper.Viper { return l.v }

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string { return l.v.ConfigFileUsed() }

// Load reads the file if there is one and returns the validated result.
// A missing file in the default location is not an error.
func (l *Loader) Load() (Configuration, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Configuration{}, errors.Wrap(err, "failed to read config file")
		}
		logger.Debug("No config file found, using defaults")
	}
	return l.decode()
}

func (l *Loader) decode() (Configuration, error) {
	var config Configuration
	if err := l.v.Unmarshal(&config); err != nil {
		return Configuration{}, errors.Wrap(err, "failed to parse config")
	}
	if err := validateConfig(&config); err != nil {
		return Configuration{}, err
	}
	return config, nil
}

// Watch calls fn with the new configuration whenever the file changes.
// Invalid edits are logged and skipped. fn runs on viper's watcher
// goroutine.
func (l *Loader) Watch(fn func(Configuration)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		config, err := l.decode()
		if err != nil {
			logger.Warn("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		logger.Info("Reloaded configuration from %s", e.Name)
		fn(config)
	})
	l.v.WatchConfig()
}

// LoadConfig loads configuration from the specified file path
func LoadConfig(path string, config *Configuration) error {
	l := NewLoader(path)
	if err := l.v.ReadInConfig(); err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	c, err := l.decode()
	if err != nil {
		return err
	}
	*config = c
	return nil
}

// SaveConfig writes config to path as YAML or JSON depending on the
// extension.
func SaveConfig(path string, config Configuration) error {
	if err := validateConfig(&config); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *Configuration) error {
	if config.LockAfter < 0 {
		return errors.Wrap(ErrInvalid, "lock_after must not be negative")
	}
	if config.SwitchGreeterDelay <= 0 {
		return errors.Wrap(ErrInvalid, "switch_greeter_delay must be positive")
	}
	if config.FadeTimeout < 0 {
		return errors.Wrap(ErrInvalid, "fade_timeout must not be negative")
	}
	switch strings.ToLower(config.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "none", "off", "disabled":
	default:
		return errors.Wrapf(ErrInvalid, "unknown log_level %q", config.LogLevel)
	}
	if config.DBusName == "" {
		return errors.Wrap(ErrInvalid, "dbus_name must not be empty")
	}
	return nil
}

// GenerateDefaultConfigFile writes the defaults to
// ~/.config/fancysaver/config.json unless a file is already there, and
// returns the path.
func GenerateDefaultConfigFile() (string, error) {
	configDir, err := DefaultDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create config directory")
	}

	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", errors.Wrap(err, "failed to save default config")
	}
	return configPath, nil
}
