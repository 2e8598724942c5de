package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/custodex/internal/config"
	"github.com/alanyoungcy/custodex/internal/crypto"
	"github.com/alanyoungcy/custodex/internal/server"
)

const (
	adminSeed     = "0x0101010101010101010101010101010101010101010101010101010101010101"
	authoritySeed = "0x0202020202020202020202020202020202020202020202020202020202020202"
	stakeMint     = "0x3333333333333333333333333333333333333333333333333333333333333333"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Ledger.Faucet = true
	cfg.Marketplace.Name = "alpha"
	cfg.Marketplace.Fee = 300
	cfg.Marketplace.Admin.Seed = adminSeed
	cfg.Session.Authority.Seed = authoritySeed
	cfg.Session.PlatformFee = 250
	cfg.Session.AllowedMints = []string{stakeMint}
	return &cfg
}

func quietApp(cfg *config.Config) *App {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWireMemoryBackend(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if deps.LedgerStore == nil || deps.AuditStore == nil || deps.ReceiptStore == nil {
		t.Fatal("stores not wired")
	}
	if deps.LockManager == nil || deps.SignalBus == nil || deps.Journal == nil || deps.RateLimiter == nil {
		t.Fatal("caches not wired")
	}
	if deps.Archiver != nil {
		t.Fatal("archiver wired without archiving enabled")
	}
}

func TestBootstrapCreatesRootAndSessionConfig(t *testing.T) {
	ctx := context.Background()
	a := quietApp(testConfig())
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	svcs, err := buildServices(a.cfg, deps, a.logger)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := a.bootstrap(ctx, svcs); err != nil {
			t.Fatalf("bootstrap run %d: %v", i, err)
		}
	}

	root, err := svcs.markets.Root(ctx, "alpha")
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root.State.Fee != 300 {
		t.Fatalf("fee = %d, want 300", root.State.Fee)
	}
	admin, err := crypto.LoadKey(crypto.KeyConfig{RawSeed: adminSeed})
	if err != nil {
		t.Fatal(err)
	}
	if root.State.Admin != crypto.AddressOf(admin) {
		t.Fatalf("admin = %s", root.State.Admin)
	}

	sc, err := svcs.sessions.Config(ctx)
	if err != nil {
		t.Fatalf("session Config: %v", err)
	}
	if sc.PlatformFee != 250 || len(sc.AllowedMints) != 1 || sc.AllowedMints[0].String() != stakeMint {
		t.Fatalf("session config = %+v", sc)
	}
}

func TestBuildServicesRejectsMismatchedAuthority(t *testing.T) {
	cfg := testConfig()
	cfg.Session.UpgradeAuthority = stakeMint
	a := quietApp(cfg)
	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, err := buildServices(cfg, deps, a.logger); err == nil || !strings.Contains(err.Error(), "config names") {
		t.Fatalf("buildServices = %v, want authority mismatch", err)
	}
}

func TestHandlersServeWiredServices(t *testing.T) {
	ctx := context.Background()
	a := quietApp(testConfig())
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	svcs, err := buildServices(a.cfg, deps, a.logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.bootstrap(ctx, svcs); err != nil {
		t.Fatal(err)
	}

	srv := server.NewServer(server.Config{Faucet: true}, newHandlers(deps, svcs, a.logger), nil, nil, a.logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for path, want := range map[string]int{
		"/api/health":          http.StatusOK,
		"/api/roots/alpha":     http.StatusOK,
		"/api/sessions/config": http.StatusOK,
		"/api/roots/beta":      http.StatusNotFound,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}
