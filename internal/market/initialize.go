package market

import (
	"errors"

	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// Root is the set of addresses an initialized marketplace lives at.
type Root struct {
	Marketplace domain.Address     `json:"marketplace"`
	Treasury    domain.Address     `json:"treasury"`
	RewardsMint domain.Address     `json:"rewards_mint"`
	State       domain.Marketplace `json:"state"`
}

// Initialize creates the root for name, its treasury address, and its reward
// mint. Running it again for the same name updates the fee, but only for the
// original admin.
func (p *Program) Initialize(c *ledger.Context, admin domain.Address, name string, rate uint16) (Root, error) {
	c = c.Invoke(ProgramID)
	if err := validateName(name); err != nil {
		return Root{}, err
	}
	if err := fee.ValidateRate(rate); err != nil {
		return Root{}, err
	}
	if err := c.RequireSigner(admin, "admin"); err != nil {
		return Root{}, err
	}

	mkt, bump, err := find(marketplaceSeeds(name))
	if err != nil {
		return Root{}, err
	}
	treasury, treasuryBump, err := find(treasurySeeds(mkt))
	if err != nil {
		return Root{}, err
	}
	rewards, rewardsBump, err := find(rewardsSeeds(mkt))
	if err != nil {
		return Root{}, err
	}
	root := Root{Marketplace: mkt, Treasury: treasury, RewardsMint: rewards}

	existing, err := GetMarketplace(c, mkt)
	switch {
	case err == nil:
		if existing.Admin != admin {
			return Root{}, domain.Errorf(domain.KindAuthorization, "marketplace %q belongs to %s", name, existing.Admin.Short())
		}
		existing.Fee = rate
		if err := put(c, mkt, marketplaceTag, existing); err != nil {
			return Root{}, err
		}
		root.State = existing
		return root, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Root{}, err
	}

	if _, err := ledger.CreateDerived(c, admin, derive.WithBump(marketplaceSeeds(name), bump), MarketplaceSpace, ProgramID); err != nil {
		return Root{}, err
	}
	state := domain.Marketplace{
		Admin:        admin,
		Fee:          rate,
		Bump:         bump,
		TreasuryBump: treasuryBump,
		RewardsBump:  rewardsBump,
		Name:         name,
	}
	if err := put(c, mkt, marketplaceTag, state); err != nil {
		return Root{}, err
	}

	signed, err := c.InvokeSigned(token.ProgramID, derive.WithBump(rewardsSeeds(mkt), rewardsBump))
	if err != nil {
		return Root{}, err
	}
	if err := token.CreateMint(signed, admin, rewards, mkt, RewardDecimals); err != nil {
		return Root{}, err
	}
	root.State = state
	return root, nil
}
