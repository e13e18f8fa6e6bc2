// Package config loads chat server settings from defaults, an optional
// YAML/JSON file, CHAT_* environment variables and command-line flags,
// in increasing order of priority.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andy6609/roster-chat/pkg/log"
)

const envPrefix = "CHAT"

type Server struct {
	Addr          string        `mapstructure:"addr"`
	Capacity      int           `mapstructure:"capacity"`
	MaxNameLength int           `mapstructure:"max_name_length"`
	MaxLineLength int           `mapstructure:"max_line_length"`
	OutboundQueue int           `mapstructure:"outbound_queue"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	// MaxSessions caps concurrently running session handlers; 0 means unlimited.
	MaxSessions     int           `mapstructure:"max_sessions"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type Config struct {
	Server  Server     `mapstructure:"server"`
	Metrics Metrics    `mapstructure:"metrics"`
	Log     log.Config `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5208")
	v.SetDefault("server.capacity", 256)
	v.SetDefault("server.max_name_length", 31)
	v.SetDefault("server.max_line_length", 1023)
	v.SetDefault("server.outbound_queue", 64)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", time.Duration(0))
	v.SetDefault("server.max_sessions", 0)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.root_path", "")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 0)
	v.SetDefault("log.file.max_backups", 0)
	v.SetDefault("log.file.max_days", 0)
}

// Flags registers the server flags on fs. See flagKeys for the config key
// each flag overrides.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML or JSON config file")
	fs.String("addr", ":5208", "chat listen address")
	fs.Int("capacity", 256, "maximum number of registered clients")
	fs.Duration("idle-timeout", 0, "disconnect clients idle for this long (0 disables)")
	fs.Int("max-sessions", 0, "maximum concurrently running sessions (0 is unlimited)")
	fs.String("metrics-addr", ":9090", "metrics listen address")
	fs.Bool("metrics", true, "serve prometheus metrics")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "console", "log format: console or json")
}

var flagKeys = map[string]string{
	"addr":         "server.addr",
	"capacity":     "server.capacity",
	"idle-timeout": "server.idle_timeout",
	"max-sessions": "server.max_sessions",
	"metrics-addr": "metrics.addr",
	"metrics":      "metrics.enabled",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Load resolves the configuration. fs may be nil; only flags explicitly set
// on the command line override file and environment values.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "config: bind flag %q", name)
				}
			}
		}
		if path, _ := fs.GetString("config"); path != "" {
			if err := loadFile(v, path); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "config: read %q", path)
	}
	return nil
}

func (c *Config) Validate() error {
	s := c.Server
	switch {
	case s.Addr == "":
		return errors.New("config: server.addr is empty")
	case s.Capacity <= 0:
		return errors.Newf("config: server.capacity must be positive, got %d", s.Capacity)
	case s.MaxNameLength <= 0:
		return errors.Newf("config: server.max_name_length must be positive, got %d", s.MaxNameLength)
	case s.MaxLineLength <= 0:
		return errors.Newf("config: server.max_line_length must be positive, got %d", s.MaxLineLength)
	case s.OutboundQueue <= 0:
		return errors.Newf("config: server.outbound_queue must be positive, got %d", s.OutboundQueue)
	case s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0:
		return errors.New("config: timeouts must not be negative")
	case s.MaxSessions < 0:
		return errors.Newf("config: server.max_sessions must not be negative, got %d", s.MaxSessions)
	case c.Metrics.Enabled && c.Metrics.Addr == "":
		return errors.New("config: metrics.addr is empty")
	}
	return nil
}
