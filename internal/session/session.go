// Package session is the staking-session program. Participants commit a
// fixed stake of an allow-listed mint into a session's custody account; when
// the roster fills, the session is handed to the delegation program in the
// same unit as the final deposit.
package session

import (
	"github.com/alanyoungcy/custodex/internal/codec"
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

var (
	// ProgramID owns the config, profiles and open sessions.
	ProgramID = derive.ProgramID("session")
	// DelegationProgramID takes ownership of a session once it fills.
	DelegationProgramID = derive.ProgramID("delegation")
)

const (
	ConfigSpace     = 512
	ProfileSpace    = 160
	GameSpace       = 1024
	DelegationSpace = 160

	configTag     = "Config"
	profileTag    = "Profile"
	gameTag       = "Game"
	delegationTag = "Delegation"
)

var (
	seedConfig     = []byte("CONFIG")
	seedProfile    = []byte("PROFILE")
	seedGame       = []byte("GAME")
	seedDelegation = []byte("delegation")
)

// Program executes session instructions.
type Program struct {
	upgradeAuthority domain.Address
	delegator        Delegator
}

// New returns a Program whose config may only be written by
// upgradeAuthority.
func New(upgradeAuthority domain.Address) *Program {
	return &Program{upgradeAuthority: upgradeAuthority, delegator: LedgerDelegator{}}
}

// WithDelegator replaces the hand-off used when a session fills.
func (p *Program) WithDelegator(d Delegator) *Program {
	p.delegator = d
	return p
}

func configSeeds() [][]byte                      { return [][]byte{seedConfig} }
func profileSeeds(owner domain.Address) [][]byte { return [][]byte{seedProfile, owner.Bytes()} }
func gameSeeds(seed uint64, owner domain.Address) [][]byte {
	return [][]byte{seedGame, derive.U64(seed), owner.Bytes()}
}
func delegationSeeds(game domain.Address) [][]byte { return [][]byte{seedDelegation, game.Bytes()} }

func find(seeds [][]byte, program domain.Address) (domain.Address, uint8, error) {
	addr, bump, err := derive.FindAddress(seeds, program)
	if err != nil {
		return domain.Address{}, 0, domain.Errorf(domain.KindConsistency, "derive: %v", err)
	}
	return addr, bump, nil
}

// ConfigAddress derives the program config.
func ConfigAddress() (domain.Address, uint8, error) { return find(configSeeds(), ProgramID) }

// ProfileAddress derives owner's profile.
func ProfileAddress(owner domain.Address) (domain.Address, uint8, error) {
	return find(profileSeeds(owner), ProgramID)
}

// GameAddress derives the session opened by owner with seed.
func GameAddress(seed uint64, owner domain.Address) (domain.Address, uint8, error) {
	return find(gameSeeds(seed, owner), ProgramID)
}

// VaultAddress is a session's stake custody account.
func VaultAddress(game, mint domain.Address) (domain.Address, error) {
	addr, _, err := token.AssociatedAddress(game, mint)
	return addr, err
}

// DelegationAddress derives the hand-off record for a session.
func DelegationAddress(game domain.Address) (domain.Address, uint8, error) {
	return find(delegationSeeds(game), DelegationProgramID)
}

// GetConfig reads the program config.
func GetConfig(c *ledger.Context) (domain.SessionConfig, error) {
	var cfg domain.SessionConfig
	addr, _, err := ConfigAddress()
	if err != nil {
		return cfg, err
	}
	err = read(c, addr, ProgramID, configTag, &cfg)
	return cfg, err
}

// GetProfile reads owner's profile.
func GetProfile(c *ledger.Context, owner domain.Address) (domain.Profile, error) {
	var pr domain.Profile
	addr, _, err := ProfileAddress(owner)
	if err != nil {
		return pr, err
	}
	err = read(c, addr, ProgramID, profileTag, &pr)
	return pr, err
}

// GetGame reads a session whether it is still open or already delegated.
func GetGame(c *ledger.Context, addr domain.Address) (domain.Game, error) {
	var g domain.Game
	acct, err := c.Get(addr)
	if err != nil {
		return g, err
	}
	if acct.Owner != ProgramID && acct.Owner != DelegationProgramID {
		return g, domain.Errorf(domain.KindAuthorization, "account %s is not a session", addr.Short())
	}
	err = codec.Decode(gameTag, acct.Data, &g)
	return g, err
}

// GetDelegation reads the hand-off record of a session.
func GetDelegation(c *ledger.Context, game domain.Address) (domain.Delegation, error) {
	var d domain.Delegation
	addr, _, err := DelegationAddress(game)
	if err != nil {
		return d, err
	}
	err = read(c, addr, DelegationProgramID, delegationTag, &d)
	return d, err
}

func read(c *ledger.Context, addr, owner domain.Address, tag string, v any) error {
	acct, err := c.GetOwned(addr, owner)
	if err != nil {
		return err
	}
	return codec.Decode(tag, acct.Data, v)
}

func put(c *ledger.Context, addr domain.Address, tag string, v any) error {
	data, err := codec.Encode(tag, v)
	if err != nil {
		return err
	}
	return c.WriteData(addr, data)
}
