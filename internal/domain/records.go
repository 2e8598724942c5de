package domain

import "time"

// MaxRootNameLen bounds the marketplace name, which is also a derivation seed.
const MaxRootNameLen = 32

// MaxFeeBps is 100% expressed in basis points.
const MaxFeeBps = 10_000

// Marketplace is the root configuration for offers. All offers under one
// root share its fee, treasury and reward mint.
type Marketplace struct {
	Admin        Address `json:"admin"`
	Fee          uint16  `json:"fee"`
	Bump         uint8   `json:"bump"`
	TreasuryBump uint8   `json:"treasury_bump"`
	RewardsBump  uint8   `json:"rewards_bump"`
	Name         string  `json:"name"`
}

// Listing is a live offer. It exists exactly as long as its vault holds the
// asset.
type Listing struct {
	Maker     Address `json:"maker"`
	MakerMint Address `json:"maker_mint"`
	Price     uint64  `json:"price"`
	Bump      uint8   `json:"bump"`
}

// Mint describes one asset class. A non-fungible asset is a mint with zero
// decimals and a supply of one.
type Mint struct {
	MintAuthority Address `json:"mint_authority"`
	Supply        uint64  `json:"supply"`
	Decimals      uint8   `json:"decimals"`
}

// TokenAccount holds a balance of a single mint on behalf of Owner. When the
// owner is a derived address the account is a custody account.
type TokenAccount struct {
	Mint   Address `json:"mint"`
	Owner  Address `json:"owner"`
	Amount uint64  `json:"amount"`
}

// Session program bounds.
const (
	MaxAllowedMints = 10
	MinSeats        = 2
	MaxSeats        = 5
	MinWaitTime     = 30_000
	MaxWaitTime     = 120_000
	MaxUsernameLen  = 32
)

// SessionConfig is the root configuration of the staking program.
type SessionConfig struct {
	PlatformFee  uint16    `json:"platform_fee"`
	AllowedMints []Address `json:"allowed_mints"`
	Bump         uint8     `json:"bump"`
}

// Allows reports whether mint is on the allow-list.
func (c SessionConfig) Allows(mint Address) bool {
	for _, m := range c.AllowedMints {
		if m == mint {
			return true
		}
	}
	return false
}

// Profile carries a participant's display name and record.
type Profile struct {
	Username  string `json:"username"`
	TotalWon  uint64 `json:"total_won"`
	TotalLost uint64 `json:"total_lost"`
	CreatedAt int64  `json:"created_at"`
	Bump      uint8  `json:"bump"`
}

// Card is carried for the downstream game; this module never deals one.
type Card struct {
	ID         uint8 `json:"id"`
	CardNumber uint8 `json:"card_number"`
	SubNumber  uint8 `json:"sub_number"`
}

// Player is one roster seat.
type Player struct {
	Owner       Address `json:"owner"`
	Username    string  `json:"username"`
	Hand        []Card  `json:"hand,omitempty"`
	PlayerIndex *uint8  `json:"player_index,omitempty"`
}

// Game is a staking session. Players accumulate until NoPlayers is reached,
// at which point the session is delegated downstream.
type Game struct {
	Owner      Address  `json:"owner"`
	EntryStake uint64   `json:"entry_stake"`
	GameVault  Address  `json:"game_vault"`
	StakeMint  Address  `json:"stake_mint"`
	NoPlayers  uint8    `json:"no_players"`
	PlayerTurn uint8    `json:"player_turn"`
	Players    []Player `json:"players"`
	Winner     *Address `json:"winner,omitempty"`
	CallCard   *Card    `json:"call_card,omitempty"`
	DrawPile   []Card   `json:"draw_pile,omitempty"`
	WaitTime   int64    `json:"wait_time"`
	Seed       uint64   `json:"seed"`
	RandomSeed *uint64  `json:"random_seed,omitempty"`
	Delegated  bool     `json:"delegated"`
	Started    bool     `json:"started"`
	Ended      bool     `json:"ended"`
	CreatedAt  int64    `json:"created_at"`
	StartedAt  *int64   `json:"started_at,omitempty"`
	EndedAt    *int64   `json:"ended_at,omitempty"`
	Bump       uint8    `json:"bump"`
}

// Full reports whether every seat is taken.
func (g Game) Full() bool { return len(g.Players) >= int(g.NoPlayers) }

// HasPlayer reports whether owner already holds a seat.
func (g Game) HasPlayer(owner Address) bool {
	for _, p := range g.Players {
		if p.Owner == owner {
			return true
		}
	}
	return false
}

// Delegation records that a session was handed to the downstream executor.
type Delegation struct {
	Session     Address `json:"session"`
	Owner       Address `json:"owner"`
	DelegatedAt int64   `json:"delegated_at"`
	Bump        uint8   `json:"bump"`
}

// SettlementReceipt is the committed outcome of one purchase.
type SettlementReceipt struct {
	ID          string    `json:"id"`
	Marketplace Address   `json:"marketplace"`
	Listing     Address   `json:"listing"`
	Mint        Address   `json:"mint"`
	Maker       Address   `json:"maker"`
	Taker       Address   `json:"taker"`
	Price       uint64    `json:"price"`
	Proceeds    uint64    `json:"proceeds"`
	Fee         uint64    `json:"fee"`
	Reward      uint64    `json:"reward"`
	SettledAt   time.Time `json:"settled_at"`
}
