package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/custodex/internal/config"
	"github.com/alanyoungcy/custodex/internal/crypto"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/market"
	"github.com/alanyoungcy/custodex/internal/service"
	"github.com/alanyoungcy/custodex/internal/session"
)

// services is the program layer built on top of Dependencies.
type services struct {
	exec     *executor.Executor
	markets  *service.MarketService
	sessions *service.SessionService
	assets   *service.AssetService

	admin     ed25519.PrivateKey
	authority ed25519.PrivateKey
}

func buildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*services, error) {
	mode, err := fee.ParseMode(cfg.Marketplace.FeeMode)
	if err != nil {
		return nil, err
	}

	s := &services{}
	if cfg.Marketplace.Admin.Set() {
		if s.admin, err = loadKey(cfg.Marketplace.Admin); err != nil {
			return nil, fmt.Errorf("marketplace admin: %w", err)
		}
	}
	var upgradeAuthority domain.Address
	if cfg.Session.Authority.Set() {
		if s.authority, err = loadKey(cfg.Session.Authority); err != nil {
			return nil, fmt.Errorf("session authority: %w", err)
		}
		upgradeAuthority = crypto.AddressOf(s.authority)
		if cfg.Session.UpgradeAuthority != "" && cfg.Session.UpgradeAuthority != upgradeAuthority.String() {
			return nil, fmt.Errorf("session authority key is %s, config names %s", upgradeAuthority, cfg.Session.UpgradeAuthority)
		}
	} else if upgradeAuthority, err = domain.ParseAddress(cfg.Session.UpgradeAuthority); err != nil {
		return nil, fmt.Errorf("session upgrade authority: %w", err)
	}

	proc := ledger.NewProcessor(deps.LedgerStore, ledger.Rent{LamportsPerByte: cfg.Ledger.LamportsPerByte}, logger)
	s.exec = executor.New(proc, deps.LockManager, executor.Options{
		LockTTL:   cfg.Executor.LockTTL.Duration,
		LockWait:  cfg.Executor.LockWait.Duration,
		ReplayTTL: cfg.Executor.ReplayTTL.Duration,
	}, logger)

	events := service.NewPublisher(deps.SignalBus, deps.Journal, logger)
	s.markets = service.NewMarketService(s.exec, market.New(fee.Policy{Mode: mode}), deps.ReceiptStore, deps.AuditStore, events, logger)
	s.sessions = service.NewSessionService(s.exec, session.New(upgradeAuthority), deps.AuditStore, events, logger)
	s.assets = service.NewAssetService(s.exec, deps.AuditStore, logger)
	return s, nil
}

func loadKey(k config.KeyConfig) (ed25519.PrivateKey, error) {
	return crypto.LoadKey(crypto.KeyConfig{
		RawSeed:          k.Seed,
		EncryptedKeyPath: k.EncryptedKeyPath,
		KeyPassword:      k.KeyPassword,
	})
}

// bootstrap writes the marketplace root and the session config when their
// keys are configured. Both operations accept a re-run by the same signer,
// so restarts converge on the configured values.
func (a *App) bootstrap(ctx context.Context, s *services) error {
	if s.admin != nil {
		admin := crypto.AddressOf(s.admin)
		if err := a.fund(ctx, s, admin); err != nil {
			return err
		}
		root, err := s.markets.Initialize(ctx, bootstrapCall(admin), admin, a.cfg.Marketplace.Name, uint16(a.cfg.Marketplace.Fee))
		if err != nil {
			return fmt.Errorf("marketplace %q: %w", a.cfg.Marketplace.Name, err)
		}
		a.logger.InfoContext(ctx, "marketplace ready",
			slog.String("name", root.State.Name),
			slog.String("marketplace", root.Marketplace.String()),
			slog.Int("fee", int(root.State.Fee)),
		)
	}
	if s.authority != nil && len(a.cfg.Session.AllowedMints) > 0 {
		mints := make([]domain.Address, 0, len(a.cfg.Session.AllowedMints))
		for _, m := range a.cfg.Session.AllowedMints {
			addr, err := domain.ParseAddress(m)
			if err != nil {
				return fmt.Errorf("allowed mint: %w", err)
			}
			mints = append(mints, addr)
		}
		authority := crypto.AddressOf(s.authority)
		if err := a.fund(ctx, s, authority); err != nil {
			return err
		}
		cfgAddr, err := s.sessions.InitializeConfig(ctx, bootstrapCall(authority), authority, uint16(a.cfg.Session.PlatformFee), mints)
		if err != nil {
			return fmt.Errorf("session config: %w", err)
		}
		a.logger.InfoContext(ctx, "session config ready",
			slog.String("config", cfgAddr.String()),
			slog.Int("allowed_mints", len(mints)),
		)
	}
	return nil
}

// bootstrapFunding is airdropped to an empty bootstrap signer when the
// faucet is on.
const bootstrapFunding = 1_000_000_000

func (a *App) fund(ctx context.Context, s *services, addr domain.Address) error {
	if !a.cfg.Ledger.Faucet {
		return nil
	}
	bal, err := s.assets.Balance(ctx, addr)
	if err != nil {
		return fmt.Errorf("balance %s: %w", addr.Short(), err)
	}
	if bal > 0 {
		return nil
	}
	if _, err := s.assets.Airdrop(ctx, bootstrapCall(addr), addr, bootstrapFunding); err != nil {
		return fmt.Errorf("fund %s: %w", addr.Short(), err)
	}
	return nil
}

func bootstrapCall(signer domain.Address) service.Call {
	return service.Call{
		RequestID: "bootstrap-" + uuid.NewString(),
		Signers:   domain.Signers{signer},
	}
}
