package market

import (
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// Offer is the addressing of one listing.
type Offer struct {
	Marketplace domain.Address `json:"marketplace"`
	Listing     domain.Address `json:"listing"`
	Vault       domain.Address `json:"vault"`
	Mint        domain.Address `json:"mint"`
}

// ResolveOffer derives the listing and vault addresses for mint under mkt.
func ResolveOffer(mkt, mint domain.Address) (Offer, uint8, error) {
	listing, bump, err := ListingAddress(mkt, mint)
	if err != nil {
		return Offer{}, 0, err
	}
	vault, err := VaultAddress(listing, mint)
	if err != nil {
		return Offer{}, 0, err
	}
	return Offer{Marketplace: mkt, Listing: listing, Vault: vault, Mint: mint}, bump, nil
}

// List opens a listing for one unit of mint at price and moves that unit
// from the maker's associated account into custody. A live listing for the
// same mint occupies the address, so a second List fails with a capacity
// error and leaves the first untouched.
func (p *Program) List(c *ledger.Context, maker, mkt, mint domain.Address, price uint64) (Offer, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(maker, "maker"); err != nil {
		return Offer{}, err
	}
	if _, err := GetMarketplace(c, mkt); err != nil {
		return Offer{}, err
	}
	m, err := token.GetMint(c, mint)
	if err != nil {
		return Offer{}, err
	}
	offer, bump, err := ResolveOffer(mkt, mint)
	if err != nil {
		return Offer{}, err
	}

	if _, err := ledger.CreateDerived(c, maker, derive.WithBump(listingSeeds(mkt, mint), bump), ListingSpace, ProgramID); err != nil {
		return Offer{}, err
	}
	if err := put(c, offer.Listing, listingTag, domain.Listing{Maker: maker, MakerMint: mint, Price: price, Bump: bump}); err != nil {
		return Offer{}, err
	}

	if _, err := token.CreateAssociatedIdempotent(c, maker, offer.Listing, mint); err != nil {
		return Offer{}, err
	}
	makerATA, _, err := token.AssociatedAddress(maker, mint)
	if err != nil {
		return Offer{}, err
	}
	if err := token.TransferChecked(c, makerATA, mint, offer.Vault, maker, 1, m.Decimals); err != nil {
		return Offer{}, err
	}
	if err := expectCustody(c, offer.Vault, 1); err != nil {
		return Offer{}, err
	}
	return offer, nil
}

// Delist returns the custodied unit to the maker and closes the listing and
// its vault, refunding both deposits to the maker.
func (p *Program) Delist(c *ledger.Context, maker, mkt, mint domain.Address) (Offer, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(maker, "maker"); err != nil {
		return Offer{}, err
	}
	if _, err := GetMarketplace(c, mkt); err != nil {
		return Offer{}, err
	}
	offer, listing, err := loadListing(c, mkt, mint)
	if err != nil {
		return Offer{}, err
	}
	if listing.Maker != maker {
		return Offer{}, domain.Errorf(domain.KindAuthorization, "listing %s belongs to %s", offer.Listing.Short(), listing.Maker.Short())
	}
	m, err := token.GetMint(c, mint)
	if err != nil {
		return Offer{}, err
	}
	if err := expectCustody(c, offer.Vault, 1); err != nil {
		return Offer{}, err
	}

	makerATA, err := token.CreateAssociatedIdempotent(c, maker, maker, mint)
	if err != nil {
		return Offer{}, err
	}
	if err := release(c, offer, listing, makerATA, m.Decimals, maker); err != nil {
		return Offer{}, err
	}
	return offer, nil
}

// loadListing re-derives the listing for mint, reads it, and checks the
// stored bump still reproduces the address.
func loadListing(c *ledger.Context, mkt, mint domain.Address) (Offer, domain.Listing, error) {
	offer, _, err := ResolveOffer(mkt, mint)
	if err != nil {
		return Offer{}, domain.Listing{}, err
	}
	listing, err := GetListing(c, offer.Listing)
	if err != nil {
		return Offer{}, domain.Listing{}, err
	}
	if listing.MakerMint != mint {
		return Offer{}, domain.Listing{}, domain.Errorf(domain.KindConsistency, "listing %s records mint %s", offer.Listing.Short(), listing.MakerMint.Short())
	}
	if err := derive.Verify(listingSeeds(mkt, mint), listing.Bump, ProgramID, offer.Listing); err != nil {
		return Offer{}, domain.Listing{}, err
	}
	return offer, listing, nil
}

// release moves the custodied unit to dest under the listing's derived
// authority, then closes the vault and the listing into refund.
func release(c *ledger.Context, offer Offer, listing domain.Listing, dest domain.Address, decimals uint8, refund domain.Address) error {
	signed, err := c.InvokeSigned(token.ProgramID, derive.WithBump(listingSeeds(offer.Marketplace, offer.Mint), listing.Bump))
	if err != nil {
		return err
	}
	if err := token.TransferChecked(signed, offer.Vault, offer.Mint, dest, offer.Listing, 1, decimals); err != nil {
		return err
	}
	if err := expectCustody(c, offer.Vault, 0); err != nil {
		return err
	}
	if err := token.CloseAccount(signed, offer.Vault, refund, offer.Listing); err != nil {
		return err
	}
	return c.Close(offer.Listing, refund)
}

func expectCustody(c *ledger.Context, vault domain.Address, want uint64) error {
	got, err := token.Balance(c, vault)
	if err != nil {
		return err
	}
	if got != want {
		return domain.Errorf(domain.KindConsistency, "custody %s holds %d, want %d", vault.Short(), got, want)
	}
	return nil
}
