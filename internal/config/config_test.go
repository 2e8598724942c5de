package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const authority = "0x1111111111111111111111111111111111111111111111111111111111111111"

func validConfig() Config {
	cfg := Defaults()
	cfg.Session.UpgradeAuthority = authority
	return cfg
}

func TestDefaultsNeedOnlyAnAuthority(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "upgrade_authority") {
		t.Fatalf("Validate defaults = %v, want upgrade_authority error", err)
	}
	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "mode and level",
			mutate: func(c *Config) { c.Mode = "trade"; c.LogLevel = "loud" },
			want:   []string{`unknown mode "trade"`, `unknown log_level "loud"`},
		},
		{
			name:   "fee",
			mutate: func(c *Config) { c.Marketplace.Fee = 10_001; c.Marketplace.FeeMode = "percent" },
			want:   []string{"marketplace: fee must be", "unknown mode \"percent\""},
		},
		{
			name: "admin without name",
			mutate: func(c *Config) {
				c.Marketplace.Admin = KeyConfig{EncryptedKeyPath: "admin.key"}
			},
			want: []string{"name must be 1-32", "key_password is required"},
		},
		{
			name: "allowed mints",
			mutate: func(c *Config) {
				c.Session.AllowedMints = []string{"0x12"}
			},
			want: []string{"platform_fee must be", "allowed_mints"},
		},
		{
			name:   "archive needs postgres and s3",
			mutate: func(c *Config) { c.Mode = "archive"; c.S3.Bucket = "" },
			want:   []string{"archive mode needs the postgres backend", "s3: bucket"},
		},
		{
			name: "postgres",
			mutate: func(c *Config) {
				c.Ledger.Backend = "postgres"
				c.Postgres.Host = ""
				c.Postgres.PoolMinConns = 20
			},
			want: []string{"postgres: host", "pool_min_conns"},
		},
		{
			name:   "server",
			mutate: func(c *Config) { c.Server.Port = 70_000 },
			want:   []string{"server: port must be 1-65535"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodex.toml")
	body := `
mode = "server"

[marketplace]
name = "alpha"
fee = 250
fee_mode = "bps"

[session]
upgrade_authority = "` + authority + `"
allowed_mints = ["` + authority + `"]
platform_fee = 100

[archive]
interval = "1h"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CUSTODEX_SERVER_PORT", "9100")
	t.Setenv("CUSTODEX_SERVER_API_KEY", "secret")
	t.Setenv("CUSTODEX_MARKETPLACE_ADMIN_SEED", "0xabcd")
	t.Setenv("CUSTODEX_EXECUTOR_REPLAY_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "server" || cfg.Marketplace.Name != "alpha" || cfg.Marketplace.Fee != 250 || cfg.Marketplace.FeeMode != "bps" {
		t.Fatalf("file values not applied: %+v", cfg.Marketplace)
	}
	if cfg.Archive.Interval.Duration != time.Hour {
		t.Fatalf("archive interval = %v", cfg.Archive.Interval)
	}
	if cfg.Archive.Retention.Duration != 90*24*time.Hour {
		t.Fatalf("retention default lost: %v", cfg.Archive.Retention)
	}
	if cfg.Server.Port != 9100 || cfg.Server.APIKey != "secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.Server)
	}
	if cfg.Marketplace.Admin.Seed != "0xabcd" || cfg.Executor.ReplayTTL.Duration != 90*time.Second {
		t.Fatalf("key/executor env not applied: %+v %+v", cfg.Marketplace.Admin, cfg.Executor)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Marketplace.Admin.Seed = "0xseed"
	cfg.Session.Authority = KeyConfig{EncryptedKeyPath: "auth.key", KeyPassword: "pw"}
	cfg.Postgres.Password = "pg"
	cfg.S3.SecretKey = "s3"
	cfg.Server.APIKey = "api"

	out := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"admin seed":   out.Marketplace.Admin.Seed,
		"key password": out.Session.Authority.KeyPassword,
		"postgres":     out.Postgres.Password,
		"s3":           out.S3.SecretKey,
		"api key":      out.Server.APIKey,
	} {
		if got != redacted {
			t.Errorf("%s = %q, want redacted", name, got)
		}
	}
	if out.Session.Authority.EncryptedKeyPath != "auth.key" {
		t.Errorf("key path should stay visible")
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret became %q", out.Redis.Password)
	}
	if cfg.Server.APIKey != "api" || cfg.Marketplace.Admin.Seed != "0xseed" {
		t.Fatal("original config was mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatal("CORS origins share backing array")
	}
}
