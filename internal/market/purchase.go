package market

import (
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// Settlement is what a purchase moved.
type Settlement struct {
	Offer       Offer          `json:"offer"`
	Maker       domain.Address `json:"maker"`
	Taker       domain.Address `json:"taker"`
	Treasury    domain.Address `json:"treasury"`
	RewardsMint domain.Address `json:"rewards_mint"`
	Price       uint64         `json:"price"`
	Proceeds    uint64         `json:"proceeds"`
	Fee         uint64         `json:"fee"`
	Reward      uint64         `json:"reward"`
}

// Purchase settles a listing in four legs: the taker pays the maker and the
// treasury, the custodied unit moves to the taker, one reward unit is
// minted to the taker, and the listing and vault close into the maker. The
// legs run inside the caller's atomic unit, so any failure discards all of
// them.
func (p *Program) Purchase(c *ledger.Context, taker, mkt, mint domain.Address) (Settlement, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(taker, "taker"); err != nil {
		return Settlement{}, err
	}
	root, err := GetMarketplace(c, mkt)
	if err != nil {
		return Settlement{}, err
	}
	offer, listing, err := loadListing(c, mkt, mint)
	if err != nil {
		return Settlement{}, err
	}
	treasury, err := derive.CreateAddress(derive.WithBump(treasurySeeds(mkt), root.TreasuryBump), ProgramID)
	if err != nil {
		return Settlement{}, domain.Errorf(domain.KindAuthorization, "treasury: %v", err)
	}
	rewards, err := derive.CreateAddress(derive.WithBump(rewardsSeeds(mkt), root.RewardsBump), ProgramID)
	if err != nil {
		return Settlement{}, domain.Errorf(domain.KindAuthorization, "rewards mint: %v", err)
	}
	m, err := token.GetMint(c, mint)
	if err != nil {
		return Settlement{}, err
	}
	rm, err := token.GetMint(c, rewards)
	if err != nil {
		return Settlement{}, err
	}
	if rm.MintAuthority != mkt {
		return Settlement{}, domain.Errorf(domain.KindConfiguration, "reward mint %s is not controlled by marketplace", rewards.Short())
	}
	if err := expectCustody(c, offer.Vault, 1); err != nil {
		return Settlement{}, err
	}

	proceeds, feeAmt, err := p.fees.Split(listing.Price, root.Fee)
	if err != nil {
		return Settlement{}, err
	}
	held, err := ledger.Balance(c, taker)
	if err != nil {
		return Settlement{}, err
	}
	if held < listing.Price {
		return Settlement{}, domain.Errorf(domain.KindArithmetic, "taker holds %d lamports, price is %d", held, listing.Price)
	}

	// Leg 1: payment split, signed by the taker directly.
	if err := ledger.Transfer(c, taker, listing.Maker, proceeds); err != nil {
		return Settlement{}, err
	}
	if err := ledger.Transfer(c, taker, treasury, feeAmt); err != nil {
		return Settlement{}, err
	}

	// Leg 2: asset delivery under the listing's authority.
	takerATA, err := token.CreateAssociatedIdempotent(c, taker, taker, mint)
	if err != nil {
		return Settlement{}, err
	}
	signed, err := c.InvokeSigned(token.ProgramID, derive.WithBump(listingSeeds(mkt, mint), listing.Bump))
	if err != nil {
		return Settlement{}, err
	}
	if err := token.TransferChecked(signed, offer.Vault, mint, takerATA, offer.Listing, 1, m.Decimals); err != nil {
		return Settlement{}, err
	}

	// Leg 3: reward issuance under the marketplace's authority.
	rewardATA, err := token.CreateAssociatedIdempotent(c, taker, taker, rewards)
	if err != nil {
		return Settlement{}, err
	}
	minter, err := c.InvokeSigned(token.ProgramID, derive.WithBump(marketplaceSeeds(root.Name), root.Bump))
	if err != nil {
		return Settlement{}, err
	}
	if err := token.MintTo(minter, rewards, rewardATA, mkt, RewardPerSettlement); err != nil {
		return Settlement{}, err
	}

	// Leg 4: close custody and the listing into the maker.
	if err := expectCustody(c, offer.Vault, 0); err != nil {
		return Settlement{}, err
	}
	if err := token.CloseAccount(signed, offer.Vault, listing.Maker, offer.Listing); err != nil {
		return Settlement{}, err
	}
	if err := c.Close(offer.Listing, listing.Maker); err != nil {
		return Settlement{}, err
	}

	return Settlement{
		Offer:       offer,
		Maker:       listing.Maker,
		Taker:       taker,
		Treasury:    treasury,
		RewardsMint: rewards,
		Price:       listing.Price,
		Proceeds:    proceeds,
		Fee:         feeAmt,
		Reward:      RewardPerSettlement,
	}, nil
}
