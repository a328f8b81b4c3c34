// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package config loads ccserver configuration.
//
// Values are layered with increasing precedence: flag defaults, the optional
// YAML config file, then flags set on the command line. DATABASE_URL is used
// when no database URL is configured.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/collectconnect/ccserver/internal/auth"
	"github.com/collectconnect/ccserver/internal/diceware"
	"github.com/collectconnect/ccserver/internal/logging"
	"github.com/collectconnect/ccserver/internal/store"
	"github.com/collectconnect/ccserver/internal/xdg"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseURLEnv is consulted when database.url is unset.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the complete ccserver configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Recovery RecoveryConfig `koanf:"recovery"`
	Argon2   Argon2Config   `koanf:"argon2"`
	Auth     AuthConfig     `koanf:"auth"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig selects and configures the credential store.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	SQLitePath      string        `koanf:"sqlite_path"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// RecoveryConfig configures recovery phrase generation.
type RecoveryConfig struct {
	// Wordlist is a diceware file path. Empty selects the embedded list.
	Wordlist  string `koanf:"wordlist"`
	WordCount int    `koanf:"word_count"`
	DieCount  int    `koanf:"die_count"`
}

// Argon2Config holds the cost parameters for new recovery phrase hashes.
type Argon2Config struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
}

// AuthConfig configures the auth service.
type AuthConfig struct {
	ReservedUsernames []string `koanf:"reserved_usernames"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `koanf:"addr"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-format":        "log.format",
	"log-level":         "log.level",
	"database-driver":   "database.driver",
	"database-url":      "database.url",
	"sqlite-path":       "database.sqlite_path",
	"connect-attempts":  "database.connect_attempts",
	"connect-backoff":   "database.connect_backoff",
	"wordlist":          "recovery.wordlist",
	"word-count":        "recovery.word_count",
	"die-count":         "recovery.die_count",
	"argon2-time":       "argon2.time",
	"argon2-memory-kib": "argon2.memory_kib",
	"argon2-threads":    "argon2.threads",
	"reserved-username": "auth.reserved_usernames",
	"metrics-addr":      "metrics.addr",
}

// RegisterFlags defines every config flag, with its default, on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	argon := auth.DefaultArgon2Params()

	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("database-driver", DriverSQLite, "credential store (postgres or sqlite)")
	flags.String("database-url", "", "PostgreSQL URL (default: $"+DatabaseURLEnv+")")
	flags.String("sqlite-path", "", "SQLite database file (default: XDG_DATA_HOME/ccserver/accounts.db)")
	flags.Uint64("connect-attempts", store.DefaultConnectAttempts, "PostgreSQL connection attempts")
	flags.Duration("connect-backoff", store.DefaultConnectBackoff, "initial delay between connection attempts")
	flags.String("wordlist", "", "diceware wordlist file (default: embedded short list)")
	flags.Int("word-count", diceware.DefaultWordCount, "words per recovery phrase")
	flags.Int("die-count", diceware.DefaultDieCount, "dice per wordlist key")
	flags.Uint32("argon2-time", argon.Time, "argon2id iterations")
	flags.Uint32("argon2-memory-kib", argon.MemoryKiB, "argon2id memory in KiB")
	flags.Uint8("argon2-threads", argon.Threads, "argon2id parallelism")
	flags.StringSlice("reserved-username", nil, "reserved username glob (repeatable)")
	flags.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
}

// Load reads the YAML file at path (if non-empty) and applies flags on top.
// flags must have been set up with RegisterFlags; nil uses the defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if flags == nil {
		flags = pflag.NewFlagSet("config", pflag.ContinueOnError)
		RegisterFlags(flags)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(DatabaseURLEnv)
	}
	return &cfg, nil
}

// DefaultPath returns the XDG config file if it exists, or "".
func DefaultPath() (string, error) {
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url (or %s) is required for the postgres driver", DatabaseURLEnv)
		}
		if c.Database.ConnectAttempts < 1 {
			return invalid("database.connect_attempts", "connect attempts must be at least 1")
		}
		if c.Database.ConnectBackoff <= 0 {
			return invalid("database.connect_backoff", "connect backoff must be positive")
		}
	case DriverSQLite:
	default:
		return invalid("database.driver", "database driver must be %q or %q, got %q",
			DriverPostgres, DriverSQLite, c.Database.Driver)
	}

	if c.Recovery.WordCount < 1 || c.Recovery.WordCount > diceware.MaxWordCount {
		return invalid("recovery.word_count", "word count must be between 1 and %d", diceware.MaxWordCount)
	}
	if c.Recovery.DieCount < 1 || c.Recovery.DieCount > diceware.MaxDieCount {
		return invalid("recovery.die_count", "die count must be between 1 and %d", diceware.MaxDieCount)
	}
	if c.Recovery.Wordlist == "" && c.Recovery.DieCount != diceware.DefaultDieCount {
		return invalid("recovery.die_count", "the embedded wordlist uses %d dice", diceware.DefaultDieCount)
	}

	if err := c.Argon2Params().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "argon2").Wrap(err)
	}
	return nil
}

// Argon2Params returns the hasher parameters, keeping default salt and key lengths.
func (c *Config) Argon2Params() auth.Argon2Params {
	params := auth.DefaultArgon2Params()
	params.Time = c.Argon2.Time
	params.MemoryKiB = c.Argon2.MemoryKiB
	params.Threads = c.Argon2.Threads
	return params
}

// SQLitePath returns the configured SQLite path or the XDG default.
func (c *Config) SQLitePath() (string, error) {
	if c.Database.SQLitePath != "" {
		return c.Database.SQLitePath, nil
	}
	return xdg.DatabasePath()
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}
