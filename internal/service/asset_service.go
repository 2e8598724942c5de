package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/custodex/internal/codec"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// AccountView is a raw account plus its decoded token state, if any.
type AccountView struct {
	domain.Account
	Mint  *domain.Mint         `json:"mint,omitempty"`
	Token *domain.TokenAccount `json:"token,omitempty"`
}

// AssetService is the development faucet: native airdrops, mint creation,
// and minting. It also serves raw account reads.
type AssetService struct {
	exec   *executor.Executor
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAssetService creates an AssetService.
func NewAssetService(exec *executor.Executor, audit domain.AuditStore, logger *slog.Logger) *AssetService {
	return &AssetService{exec: exec, audit: audit, logger: logger.With(slog.String("component", "asset_service"))}
}

// Airdrop credits lamports to to.
func (s *AssetService) Airdrop(ctx context.Context, call Call, to domain.Address, lamports uint64) (uint64, error) {
	var bal uint64
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: ledger.SystemProgramID,
		Keys:    []string{"wallet:" + to.String()},
	}, func(c *ledger.Context) error {
		if err := ledger.Airdrop(c, to, lamports); err != nil {
			return err
		}
		var err error
		bal, err = ledger.Balance(c, to)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("asset_service: airdrop: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "airdrop", map[string]any{
		"request_id": id,
		"to":         to.String(),
		"lamports":   lamports,
	})
	return bal, nil
}

// CreateMint allocates a mint at mint, which must sign.
func (s *AssetService) CreateMint(ctx context.Context, call Call, payer, mint, authority domain.Address, decimals uint8) error {
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: token.ProgramID,
		Signers: call.Signers,
		Keys:    []string{"mint:" + mint.String()},
	}, func(c *ledger.Context) error {
		return token.CreateMint(c, payer, mint, authority, decimals)
	})
	if err != nil {
		return fmt.Errorf("asset_service: create mint: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "mint_created", map[string]any{
		"request_id": id,
		"mint":       mint.String(),
		"authority":  authority.String(),
		"decimals":   decimals,
	})
	return nil
}

// MintTo issues amount units of mint into owner's associated account,
// opening it at the authority's expense when needed.
func (s *AssetService) MintTo(ctx context.Context, call Call, mint, owner, authority domain.Address, amount uint64) (domain.Address, error) {
	var ata domain.Address
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: token.ProgramID,
		Signers: call.Signers,
		Keys:    []string{"mint:" + mint.String()},
	}, func(c *ledger.Context) error {
		var err error
		if ata, err = token.CreateAssociatedIdempotent(c, authority, owner, mint); err != nil {
			return err
		}
		return token.MintTo(c, mint, ata, authority, amount)
	})
	if err != nil {
		return domain.Address{}, fmt.Errorf("asset_service: mint to: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "minted", map[string]any{
		"request_id": id,
		"mint":       mint.String(),
		"to":         ata.String(),
		"amount":     amount,
	})
	return ata, nil
}

// Account reads addr and decodes token state when it is a mint or holding
// account.
func (s *AssetService) Account(ctx context.Context, addr domain.Address) (AccountView, error) {
	var view AccountView
	err := s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		acct, err := c.Get(addr)
		if err != nil {
			return err
		}
		view.Account = acct
		if acct.Owner != token.ProgramID {
			return nil
		}
		switch {
		case codec.Is(token.MintTag, acct.Data):
			m, err := token.GetMint(c, addr)
			if err != nil {
				return err
			}
			view.Mint = &m
		case codec.Is(token.AccountTag, acct.Data):
			ta, err := token.GetAccount(c, addr)
			if err != nil {
				return err
			}
			view.Token = &ta
		}
		return nil
	})
	if err != nil {
		return AccountView{}, fmt.Errorf("asset_service: account %s: %w", addr.Short(), err)
	}
	return view, nil
}

// Balance returns the lamports held at addr, zero when absent.
func (s *AssetService) Balance(ctx context.Context, addr domain.Address) (uint64, error) {
	var bal uint64
	err := s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		var err error
		bal, err = ledger.Balance(c, addr)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("asset_service: balance: %w", err)
	}
	return bal, nil
}

// TokenBalance returns the units of mint held in owner's associated account.
func (s *AssetService) TokenBalance(ctx context.Context, owner, mint domain.Address) (uint64, error) {
	ata, _, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("asset_service: token balance: %w", err)
	}
	var bal uint64
	err = s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		var err error
		bal, err = token.Balance(c, ata)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("asset_service: token balance: %w", err)
	}
	return bal, nil
}
