// Package config loads the tradeflow service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"tradeflow/address"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Storage       StorageConfig      `yaml:"storage"`
	Ledger        LedgerConfig       `yaml:"ledger"`
	Auth          AuthConfig         `yaml:"auth"`
	Admins        []string           `yaml:"admins"`
	Notifications NotificationConfig `yaml:"notifications"`
}

type ServerConfig struct {
	HTTPPort     int    `yaml:"http_port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	IdleTimeout  string `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// LedgerConfig points at the JSON-RPC endpoint. An empty RPCURL disables
// verification and ledger-backed reads.
type LedgerConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	VerifyTimeout string `yaml:"verify_timeout"`
	ReadRoles     bool   `yaml:"read_roles"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

type NotificationConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads path, applies environment overrides and defaults, then validates.
// An empty path starts from defaults and the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with DATABASE_URL, JWT_SECRET,
// LEDGER_RPC_URL, TRADEFLOW_ADMINS (comma separated) and TRADEFLOW_STORAGE.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("LEDGER_RPC_URL"); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := getenv("TRADEFLOW_STORAGE"); v != "" {
		c.Storage.Driver = v
	}
	if v := getenv("TRADEFLOW_ADMINS"); v != "" {
		c.Admins = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Admins = append(c.Admins, a)
			}
		}
	}
}

func (c *Config) SetDefaults() {
	if c.Server.HTTPPort <= 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = "120s"
	}

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 1
	}
	if c.Database.MaxConnLifetime == "" {
		c.Database.MaxConnLifetime = "30m"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StoragePostgres
		if c.Database.URL == "" {
			c.Storage.Driver = StorageMemory
		}
	}
	if c.Ledger.VerifyTimeout == "" {
		c.Ledger.VerifyTimeout = "5s"
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}
	if c.Notifications.Concurrency <= 0 {
		c.Notifications.Concurrency = 8
	}
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d (must be between 1-65535)", c.Server.HTTPPort)
	}
	durations := map[string]string{
		"server.read_timeout":        c.Server.ReadTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
		"server.idle_timeout":        c.Server.IdleTimeout,
		"database.max_conn_lifetime": c.Database.MaxConnLifetime,
		"ledger.verify_timeout":      c.Ledger.VerifyTimeout,
		"auth.token_ttl":             c.Auth.TokenTTL,
	}
	for name, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage.driver is postgres but database.url is not set")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns %d exceeds max_conns %d", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}
	for _, a := range c.Admins {
		if !address.Valid(a) {
			return fmt.Errorf("admin %q is not a ledger address", a)
		}
	}
	if c.Ledger.ReadRoles && c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.read_roles is enabled but ledger.rpc_url is not set")
	}
	return nil
}

// AdminSet returns the configured administrators.
func (c *Config) AdminSet() *address.Set {
	return address.NewSet(c.Admins...)
}

// Duration parses a value already checked by Validate.
func Duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}
