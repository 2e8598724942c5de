// Package market is the escrow marketplace program. A maker deposits one
// unit of a non-fungible asset into a custody account whose authority is the
// listing's derived address; a taker settles by paying the price, or the
// maker cancels and takes the asset back. Either way the listing and its
// custody account close in the same unit that empties the custody account.
package market

import (
	"github.com/alanyoungcy/custodex/internal/codec"
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// ProgramID owns marketplace roots and listings.
var ProgramID = derive.ProgramID("marketplace")

const (
	MarketplaceSpace = 192
	ListingSpace     = 160

	// RewardDecimals is the precision of every root's reward mint.
	RewardDecimals = 6
	// RewardPerSettlement is minted to the taker on each purchase,
	// regardless of price.
	RewardPerSettlement = 1

	marketplaceTag = "Marketplace"
	listingTag     = "Listing"
)

var (
	seedMarketplace = []byte("marketplace")
	seedTreasury    = []byte("treasury")
	seedRewards     = []byte("rewards")
)

// Program executes marketplace instructions.
type Program struct {
	fees fee.Policy
}

// New returns a Program that splits settlement payments with policy.
func New(policy fee.Policy) *Program {
	return &Program{fees: policy}
}

func marketplaceSeeds(name string) [][]byte { return [][]byte{seedMarketplace, []byte(name)} }
func treasurySeeds(mkt domain.Address) [][]byte {
	return [][]byte{seedTreasury, mkt.Bytes()}
}
func rewardsSeeds(mkt domain.Address) [][]byte { return [][]byte{seedRewards, mkt.Bytes()} }
func listingSeeds(mkt, mint domain.Address) [][]byte {
	return [][]byte{mkt.Bytes(), mint.Bytes()}
}

func find(seeds [][]byte) (domain.Address, uint8, error) {
	addr, bump, err := derive.FindAddress(seeds, ProgramID)
	if err != nil {
		return domain.Address{}, 0, domain.Errorf(domain.KindConsistency, "derive: %v", err)
	}
	return addr, bump, nil
}

// MarketplaceAddress derives the root for name.
func MarketplaceAddress(name string) (domain.Address, uint8, error) {
	if err := validateName(name); err != nil {
		return domain.Address{}, 0, err
	}
	return find(marketplaceSeeds(name))
}

// TreasuryAddress derives the wallet that collects a root's fees.
func TreasuryAddress(mkt domain.Address) (domain.Address, uint8, error) {
	return find(treasurySeeds(mkt))
}

// RewardsMintAddress derives a root's reward mint.
func RewardsMintAddress(mkt domain.Address) (domain.Address, uint8, error) {
	return find(rewardsSeeds(mkt))
}

// ListingAddress derives the one possible listing for mint under mkt. The
// address doubles as the custody account's move authority.
func ListingAddress(mkt, mint domain.Address) (domain.Address, uint8, error) {
	return find(listingSeeds(mkt, mint))
}

// VaultAddress is the custody account for a listing.
func VaultAddress(listing, mint domain.Address) (domain.Address, error) {
	addr, _, err := token.AssociatedAddress(listing, mint)
	return addr, err
}

func validateName(name string) error {
	if name == "" || len(name) > domain.MaxRootNameLen {
		return domain.Errorf(domain.KindConfiguration, "marketplace name must be 1-%d bytes, got %d", domain.MaxRootNameLen, len(name))
	}
	return nil
}

// GetMarketplace reads a root.
func GetMarketplace(c *ledger.Context, addr domain.Address) (domain.Marketplace, error) {
	var m domain.Marketplace
	acct, err := c.GetOwned(addr, ProgramID)
	if err != nil {
		return m, err
	}
	err = codec.Decode(marketplaceTag, acct.Data, &m)
	return m, err
}

// GetListing reads a listing.
func GetListing(c *ledger.Context, addr domain.Address) (domain.Listing, error) {
	var l domain.Listing
	acct, err := c.GetOwned(addr, ProgramID)
	if err != nil {
		return l, err
	}
	err = codec.Decode(listingTag, acct.Data, &l)
	return l, err
}

func put(c *ledger.Context, addr domain.Address, tag string, v any) error {
	data, err := codec.Encode(tag, v)
	if err != nil {
		return err
	}
	return c.WriteData(addr, data)
}
