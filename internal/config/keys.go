package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "HAMSTER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "HAMSTER_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "storage.app_group", typ: kString, env: "HAMSTER_STORAGE_APP_GROUP",
		apply:   func(cfg *Config, v any) { cfg.Storage.AppGroup = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.AppGroup },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HAMSTER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.DataDir() },
	},
	{
		key: "log.level", typ: kString, env: "HAMSTER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "keyboard.idiom", typ: kString, env: "HAMSTER_KEYBOARD_IDIOM",
		apply:   func(cfg *Config, v any) { cfg.Keyboard.Idiom = v.(string) },
		extract: func(cfg Config) any { return cfg.Keyboard.Idiom },
	},
	{
		key: "prefs.write_behind", typ: kBool, env: "HAMSTER_PREFS_WRITE_BEHIND",
		apply:   func(cfg *Config, v any) { cfg.Prefs.WriteBehind = v.(bool) },
		extract: func(cfg Config) any { return cfg.Prefs.WriteBehind },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		v, ok, err := s.read(b)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// read fetches the value of s from b. Integers come typed from the
// backend; booleans are stored as text.
func (s keySpec) read(b ConfigBackend) (any, bool, error) {
	switch s.typ {
	case kInt:
		return b.GetInt(s.key)
	case kBool:
		raw, ok, err := b.GetString(s.key)
		if err != nil || !ok || raw == "" {
			return nil, false, err
		}
		v, ok := s.decode(raw, "config key "+s.key)
		return v, ok, nil
	default:
		return b.GetString(s.key)
	}
}

// decode parses raw text for s. A value that does not parse is reported on
// stderr and skipped so the default stays in effect.
func (s keySpec) decode(raw, source string) (any, bool) {
	var (
		v   any
		err error
	)
	switch s.typ {
	case kInt:
		v, err = strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		v, err = strconv.ParseBool(strings.TrimSpace(raw))
	default:
		return raw, true
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse %s=%q: %v. Using default value.\n", source, raw, err)
		return nil, false
	}
	return v, true
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		if v, ok := s.decode(raw, "env var "+s.env); ok {
			s.apply(cfg, v)
		}
	}
}
