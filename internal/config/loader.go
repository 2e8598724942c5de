package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CUSTODEX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CUSTODEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "CUSTODEX_LEDGER_BACKEND")
	setUint64(&cfg.Ledger.LamportsPerByte, "CUSTODEX_LEDGER_LAMPORTS_PER_BYTE")
	setBool(&cfg.Ledger.Faucet, "CUSTODEX_LEDGER_FAUCET")

	// ── Marketplace ──
	setStr(&cfg.Marketplace.Name, "CUSTODEX_MARKETPLACE_NAME")
	setInt(&cfg.Marketplace.Fee, "CUSTODEX_MARKETPLACE_FEE")
	setStr(&cfg.Marketplace.FeeMode, "CUSTODEX_MARKETPLACE_FEE_MODE")
	setKey(&cfg.Marketplace.Admin, "CUSTODEX_MARKETPLACE_ADMIN")

	// ── Session ──
	setStr(&cfg.Session.UpgradeAuthority, "CUSTODEX_SESSION_UPGRADE_AUTHORITY")
	setKey(&cfg.Session.Authority, "CUSTODEX_SESSION_AUTHORITY")
	setInt(&cfg.Session.PlatformFee, "CUSTODEX_SESSION_PLATFORM_FEE")
	setStringSlice(&cfg.Session.AllowedMints, "CUSTODEX_SESSION_ALLOWED_MINTS")

	// ── Executor ──
	setDuration(&cfg.Executor.LockTTL, "CUSTODEX_EXECUTOR_LOCK_TTL")
	setDuration(&cfg.Executor.LockWait, "CUSTODEX_EXECUTOR_LOCK_WAIT")
	setDuration(&cfg.Executor.ReplayTTL, "CUSTODEX_EXECUTOR_REPLAY_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CUSTODEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CUSTODEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CUSTODEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CUSTODEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CUSTODEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CUSTODEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CUSTODEX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CUSTODEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CUSTODEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CUSTODEX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CUSTODEX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CUSTODEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CUSTODEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CUSTODEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CUSTODEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CUSTODEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CUSTODEX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CUSTODEX_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CUSTODEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CUSTODEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "CUSTODEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CUSTODEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CUSTODEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CUSTODEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CUSTODEX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CUSTODEX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "CUSTODEX_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "CUSTODEX_ARCHIVE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CUSTODEX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CUSTODEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CUSTODEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CUSTODEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CUSTODEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CUSTODEX_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "CUSTODEX_MODE")
	setStr(&cfg.LogLevel, "CUSTODEX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setKey reads <prefix>_SEED, <prefix>_ENCRYPTED_KEY_PATH and
// <prefix>_KEY_PASSWORD.
func setKey(dst *KeyConfig, prefix string) {
	setStr(&dst.Seed, prefix+"_SEED")
	setStr(&dst.EncryptedKeyPath, prefix+"_ENCRYPTED_KEY_PATH")
	setStr(&dst.KeyPassword, prefix+"_KEY_PASSWORD")
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
