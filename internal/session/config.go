package session

import (
	"errors"

	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
)

// InitializeConfig writes the platform fee and mint allow-list. It may be
// re-run to replace both, always by the upgrade authority.
func (p *Program) InitializeConfig(c *ledger.Context, admin domain.Address, platformFee uint16, allowedMints []domain.Address) (domain.Address, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(admin, "admin"); err != nil {
		return domain.Address{}, err
	}
	if admin != p.upgradeAuthority {
		return domain.Address{}, domain.Errorf(domain.KindAuthorization, "%s is not the upgrade authority", admin.Short())
	}
	if platformFee == 0 || platformFee > domain.MaxFeeBps {
		return domain.Address{}, domain.Errorf(domain.KindConfiguration, "platform fee %d outside (0, %d]", platformFee, domain.MaxFeeBps)
	}
	if len(allowedMints) == 0 || len(allowedMints) > domain.MaxAllowedMints {
		return domain.Address{}, domain.Errorf(domain.KindConfiguration, "allowed mints must number 1-%d, got %d", domain.MaxAllowedMints, len(allowedMints))
	}

	addr, bump, err := ConfigAddress()
	if err != nil {
		return domain.Address{}, err
	}
	exists, err := c.Exists(addr)
	if err != nil {
		return domain.Address{}, err
	}
	if !exists {
		if _, err := ledger.CreateDerived(c, admin, derive.WithBump(configSeeds(), bump), ConfigSpace, ProgramID); err != nil {
			return domain.Address{}, err
		}
	}
	mints := make([]domain.Address, len(allowedMints))
	copy(mints, allowedMints)
	cfg := domain.SessionConfig{PlatformFee: platformFee, AllowedMints: mints, Bump: bump}
	if err := put(c, addr, configTag, cfg); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// InitializeProfile opens the signer's profile.
func (p *Program) InitializeProfile(c *ledger.Context, owner domain.Address, username string) (domain.Address, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(owner, "owner"); err != nil {
		return domain.Address{}, err
	}
	if username == "" || len(username) > domain.MaxUsernameLen {
		return domain.Address{}, domain.Errorf(domain.KindConfiguration, "username must be 1-%d bytes, got %d", domain.MaxUsernameLen, len(username))
	}
	addr, bump, err := ProfileAddress(owner)
	if err != nil {
		return domain.Address{}, err
	}
	if _, err := ledger.CreateDerived(c, owner, derive.WithBump(profileSeeds(owner), bump), ProfileSpace, ProgramID); err != nil {
		return domain.Address{}, err
	}
	pr := domain.Profile{Username: username, CreatedAt: c.Now().Unix(), Bump: bump}
	if err := put(c, addr, profileTag, pr); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

func requireProfile(c *ledger.Context, owner domain.Address) (domain.Profile, error) {
	pr, err := GetProfile(c, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return pr, domain.Errorf(domain.KindNotFound, "%s has no profile", owner.Short())
	}
	return pr, err
}
