package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Keyboard KeyboardConfig
	Prefs    PrefsConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	// AppGroup scopes the shared preference store. Every process of the
	// group must resolve to the same data directory.
	AppGroup string
	// DataDir overrides the directory derived from AppGroup.
	DataDir string
}

type LogConfig struct {
	Level string
}

type KeyboardConfig struct {
	Idiom string
}

type PrefsConfig struct {
	WriteBehind bool
}

const defaultAppGroup = "group.dev.hamster.keyboard"

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4700,
			MaxConns: 16,
		},
		Storage: StorageConfig{
			AppGroup: defaultAppGroup,
		},
		Log: LogConfig{
			Level: "info",
		},
		Keyboard: KeyboardConfig{
			Idiom: "phone",
		},
		Prefs: PrefsConfig{
			WriteBehind: true,
		},
	}
}

// DataDir returns the directory holding the shared preference store.
func (c Config) DataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return defaultDataDir(c.Storage.AppGroup)
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: dev.hamster.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/hamster/config.json.
//
// Environment variables (HAMSTER_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConns < 1 {
		return fmt.Errorf("invalid config: server.max_conns must be positive, got %d", c.Server.MaxConns)
	}
	if c.Storage.AppGroup == "" && c.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: storage.app_group or storage.data_dir is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q (want debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Keyboard.Idiom) {
	case "phone", "pad":
	default:
		return fmt.Errorf("invalid config: keyboard.idiom %q (want phone or pad)", c.Keyboard.Idiom)
	}
	return nil
}
