// Package config defines the top-level configuration for custodex and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CUSTODEX_* environment variables.
type Config struct {
	Ledger      LedgerConfig      `toml:"ledger"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Session     SessionConfig     `toml:"session"`
	Executor    ExecutorConfig    `toml:"executor"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// LedgerConfig selects where account state lives.
type LedgerConfig struct {
	// Backend is "memory" or "postgres".
	Backend         string `toml:"backend"`
	LamportsPerByte uint64 `toml:"lamports_per_byte"`
	// Faucet exposes the /api/dev airdrop and mint routes.
	Faucet bool `toml:"faucet"`
}

// KeyConfig names an ed25519 identity by raw seed or encrypted key file.
type KeyConfig struct {
	Seed             string `toml:"seed"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Set reports whether any key source is configured.
func (k KeyConfig) Set() bool { return k.Seed != "" || k.EncryptedKeyPath != "" }

// MarketplaceConfig holds the fee policy and an optional root created at
// startup when Admin is set.
type MarketplaceConfig struct {
	Name    string    `toml:"name"`
	Fee     int       `toml:"fee"`
	FeeMode string    `toml:"fee_mode"`
	Admin   KeyConfig `toml:"admin"`
}

// SessionConfig holds the staking program's upgrade authority and the
// program config written at startup when the authority key is present.
type SessionConfig struct {
	// UpgradeAuthority is the address allowed to write the program config.
	// It is derived from Authority when a key is configured.
	UpgradeAuthority string    `toml:"upgrade_authority"`
	Authority        KeyConfig `toml:"authority"`
	PlatformFee      int       `toml:"platform_fee"`
	AllowedMints     []string  `toml:"allowed_mints"`
}

// ExecutorConfig tunes record locks and the replay window.
type ExecutorConfig struct {
	LockTTL   duration `toml:"lock_ttl"`
	LockWait  duration `toml:"lock_wait"`
	ReplayTTL duration `toml:"replay_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, events
// and rate limits stay in-process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving settled receipts to object storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Backend:         "memory",
			LamportsPerByte: 6960,
		},
		Marketplace: MarketplaceConfig{
			FeeMode: string(fee.ModeAbsolute),
		},
		Executor: ExecutorConfig{
			LockTTL:   duration{10 * time.Second},
			LockWait:  duration{2 * time.Second},
			ReplayTTL: duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "custodex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "custodex",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "custodex-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{24 * time.Hour},
			Retention: duration{90 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	switch c.Ledger.Backend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres)", c.Ledger.Backend))
	}
	if mode == "archive" && c.Ledger.Backend != "postgres" {
		errs = append(errs, "ledger: archive mode needs the postgres backend")
	}

	// Marketplace
	if _, err := fee.ParseMode(c.Marketplace.FeeMode); err != nil {
		errs = append(errs, "marketplace: "+err.Error())
	}
	if c.Marketplace.Fee < 0 || c.Marketplace.Fee > domain.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("marketplace: fee must be 0-%d, got %d", domain.MaxFeeBps, c.Marketplace.Fee))
	}
	if c.Marketplace.Admin.Set() {
		if c.Marketplace.Name == "" || len(c.Marketplace.Name) > domain.MaxRootNameLen {
			errs = append(errs, fmt.Sprintf("marketplace: name must be 1-%d bytes when admin is set", domain.MaxRootNameLen))
		}
	}
	errs = append(errs, checkKey("marketplace.admin", c.Marketplace.Admin)...)

	// Session
	if c.Session.UpgradeAuthority == "" && !c.Session.Authority.Set() {
		errs = append(errs, "session: upgrade_authority or an authority key must be set")
	}
	if c.Session.UpgradeAuthority != "" {
		if _, err := domain.ParseAddress(c.Session.UpgradeAuthority); err != nil {
			errs = append(errs, "session: upgrade_authority: "+err.Error())
		}
	}
	errs = append(errs, checkKey("session.authority", c.Session.Authority)...)
	if len(c.Session.AllowedMints) > 0 {
		if c.Session.PlatformFee <= 0 || c.Session.PlatformFee > domain.MaxFeeBps {
			errs = append(errs, fmt.Sprintf("session: platform_fee must be 1-%d, got %d", domain.MaxFeeBps, c.Session.PlatformFee))
		}
		if len(c.Session.AllowedMints) > domain.MaxAllowedMints {
			errs = append(errs, fmt.Sprintf("session: at most %d allowed_mints", domain.MaxAllowedMints))
		}
		for _, m := range c.Session.AllowedMints {
			if _, err := domain.ParseAddress(m); err != nil {
				errs = append(errs, "session: allowed_mints: "+err.Error())
			}
		}
	}

	// Executor
	if c.Executor.LockTTL.Duration <= 0 || c.Executor.LockWait.Duration <= 0 || c.Executor.ReplayTTL.Duration <= 0 {
		errs = append(errs, "executor: lock_ttl, lock_wait and replay_ttl must be > 0")
	}

	// Postgres
	if c.Ledger.Backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0-pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive / S3
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkKey(section string, k KeyConfig) []string {
	var errs []string
	if k.Seed != "" && k.EncryptedKeyPath != "" {
		errs = append(errs, section+": set either seed or encrypted_key_path, not both")
	}
	if k.EncryptedKeyPath != "" && k.KeyPassword == "" {
		errs = append(errs, section+": key_password is required when encrypted_key_path is set")
	}
	return errs
}
