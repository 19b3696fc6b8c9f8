// Package config resolves runtime settings: defaults, then an optional TOML
// file, then VIEWSYNC_* environment variables. Command-line flags are
// applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/viewsync/internal/observability"
	"github.com/roach88/viewsync/internal/render"
	"github.com/roach88/viewsync/internal/store"
	"github.com/roach88/viewsync/internal/transport"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Database is the SQLite file holding channel values and cursors.
	Database string `json:"database"`
	// Session names the store namespace; one database can hold many.
	Session string `json:"session"`
	// Addr is the HTTP listen address.
	Addr string `json:"addr"`
	// Codec is the WebSocket frame encoding, json or msgpack.
	Codec     string `json:"codec"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	// MountOnStart mounts a view as soon as the engine runs.
	MountOnStart bool           `json:"mount_on_start"`
	Renderer     render.Profile `json:"renderer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:     "viewsync.db",
		Session:      store.DefaultNamespace,
		Addr:         ":8080",
		Codec:        transport.CodecJSON,
		LogLevel:     "info",
		LogFormat:    "text",
		MountOnStart: true,
		Renderer:     render.DefaultProfile(),
	}
}

type fileConfig struct {
	Database     string         `toml:"database"`
	Session      string         `toml:"session"`
	Addr         string         `toml:"addr"`
	Codec        string         `toml:"codec"`
	LogLevel     string         `toml:"log_level"`
	LogFormat    string         `toml:"log_format"`
	MountOnStart bool           `toml:"mount_on_start"`
	Renderer     render.Profile `toml:"renderer"`
}

type envConfig struct {
	Database           *string  `env:"VIEWSYNC_DATABASE"`
	Session            *string  `env:"VIEWSYNC_SESSION"`
	Addr               *string  `env:"VIEWSYNC_ADDR"`
	Codec              *string  `env:"VIEWSYNC_CODEC"`
	LogLevel           *string  `env:"VIEWSYNC_LOG_LEVEL"`
	LogFormat          *string  `env:"VIEWSYNC_LOG_FORMAT"`
	MountOnStart       *bool    `env:"VIEWSYNC_MOUNT_ON_START"`
	NativeKinds        []string `env:"VIEWSYNC_NATIVE_KINDS" envSeparator:","`
	FoundationKinds    []string `env:"VIEWSYNC_FOUNDATION_KINDS" envSeparator:","`
	FoundationPrefixes []string `env:"VIEWSYNC_FOUNDATION_PREFIXES" envSeparator:","`
}

// Load resolves the configuration. An empty path skips the file; a path
// that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, nil); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("database") {
		cfg.Database = strings.TrimSpace(raw.Database)
	}
	if meta.IsDefined("session") {
		cfg.Session = strings.TrimSpace(raw.Session)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("mount_on_start") {
		cfg.MountOnStart = raw.MountOnStart
	}
	if meta.IsDefined("renderer", "name") {
		cfg.Renderer.Name = raw.Renderer.Name
	}
	if meta.IsDefined("renderer", "native_kinds") {
		cfg.Renderer.NativeKinds = raw.Renderer.NativeKinds
	}
	if meta.IsDefined("renderer", "foundation_kinds") {
		cfg.Renderer.FoundationKinds = raw.Renderer.FoundationKinds
	}
	if meta.IsDefined("renderer", "foundation_prefixes") {
		cfg.Renderer.FoundationPrefixes = raw.Renderer.FoundationPrefixes
	}
	return nil
}

// applyEnv overrides cfg from environ, or the process environment when
// environ is nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	var raw envConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&cfg.Database, raw.Database)
	set(&cfg.Session, raw.Session)
	set(&cfg.Addr, raw.Addr)
	set(&cfg.Codec, raw.Codec)
	set(&cfg.LogLevel, raw.LogLevel)
	set(&cfg.LogFormat, raw.LogFormat)
	if raw.MountOnStart != nil {
		cfg.MountOnStart = *raw.MountOnStart
	}
	if raw.NativeKinds != nil {
		cfg.Renderer.NativeKinds = raw.NativeKinds
	}
	if raw.FoundationKinds != nil {
		cfg.Renderer.FoundationKinds = raw.FoundationKinds
	}
	if raw.FoundationPrefixes != nil {
		cfg.Renderer.FoundationPrefixes = raw.FoundationPrefixes
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database must not be empty"))
	}
	if c.Session == "" {
		errs = append(errs, errors.New("session must not be empty"))
	}
	if _, err := transport.CodecByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (valid: text, json)", c.LogFormat))
	}
	if err := c.Renderer.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Exists reports whether path names a readable file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
