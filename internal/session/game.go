package session

import (
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

// Session is a game record with its addresses.
type Session struct {
	Address domain.Address `json:"address"`
	Vault   domain.Address `json:"vault"`
	State   domain.Game    `json:"state"`
}

// InitializeGame opens a session for the signer, makes them the first
// player and deposits their stake into the session's custody account.
func (p *Program) InitializeGame(c *ledger.Context, owner domain.Address, seed uint64, stakeMint domain.Address, entryStake uint64, seats uint8, waitTime int64) (Session, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(owner, "owner"); err != nil {
		return Session{}, err
	}
	if entryStake == 0 {
		return Session{}, domain.Errorf(domain.KindConfiguration, "entry stake must be positive")
	}
	if waitTime < domain.MinWaitTime || waitTime > domain.MaxWaitTime {
		return Session{}, domain.Errorf(domain.KindConfiguration, "wait time %d outside [%d, %d]", waitTime, domain.MinWaitTime, domain.MaxWaitTime)
	}
	if seats < domain.MinSeats || seats > domain.MaxSeats {
		return Session{}, domain.Errorf(domain.KindConfiguration, "seats %d outside [%d, %d]", seats, domain.MinSeats, domain.MaxSeats)
	}
	cfg, err := GetConfig(c)
	if err != nil {
		return Session{}, err
	}
	if !cfg.Allows(stakeMint) {
		return Session{}, domain.Errorf(domain.KindConfiguration, "mint %s is not allow-listed", stakeMint.Short())
	}
	profile, err := requireProfile(c, owner)
	if err != nil {
		return Session{}, err
	}
	m, err := token.GetMint(c, stakeMint)
	if err != nil {
		return Session{}, err
	}
	ownerATA, err := stakeBalanceAtLeast(c, owner, stakeMint, entryStake)
	if err != nil {
		return Session{}, err
	}

	addr, bump, err := GameAddress(seed, owner)
	if err != nil {
		return Session{}, err
	}
	if _, err := ledger.CreateDerived(c, owner, derive.WithBump(gameSeeds(seed, owner), bump), GameSpace, ProgramID); err != nil {
		return Session{}, err
	}
	vault, err := token.CreateAssociated(c, owner, addr, stakeMint)
	if err != nil {
		return Session{}, err
	}

	g := domain.Game{
		Owner:      owner,
		EntryStake: entryStake,
		GameVault:  vault,
		StakeMint:  stakeMint,
		NoPlayers:  seats,
		Players:    []domain.Player{{Owner: owner, Username: profile.Username}},
		WaitTime:   waitTime,
		Seed:       seed,
		CreatedAt:  c.Now().Unix(),
		Bump:       bump,
	}
	if err := put(c, addr, gameTag, g); err != nil {
		return Session{}, err
	}
	if err := token.TransferChecked(c, ownerATA, stakeMint, vault, owner, entryStake, m.Decimals); err != nil {
		return Session{}, err
	}
	return Session{Address: addr, Vault: vault, State: g}, nil
}

// JoinGame seats the signer in the session owner opened with seed and
// deposits their stake. The deposit that fills the roster also delegates
// the session; if delegation fails, the deposit fails with it.
func (p *Program) JoinGame(c *ledger.Context, participant, owner domain.Address, seed uint64) (Session, error) {
	c = c.Invoke(ProgramID)
	if err := c.RequireSigner(participant, "participant"); err != nil {
		return Session{}, err
	}
	addr, _, err := GameAddress(seed, owner)
	if err != nil {
		return Session{}, err
	}
	g, err := GetGame(c, addr)
	if err != nil {
		return Session{}, err
	}
	if g.Delegated {
		return Session{}, domain.Errorf(domain.KindCapacity, "session %s is already delegated", addr.Short())
	}
	if err := derive.Verify(gameSeeds(g.Seed, g.Owner), g.Bump, ProgramID, addr); err != nil {
		return Session{}, err
	}
	if g.Full() {
		return Session{}, domain.Errorf(domain.KindCapacity, "session %s has all %d seats taken", addr.Short(), g.NoPlayers)
	}
	if g.HasPlayer(participant) {
		return Session{}, domain.Errorf(domain.KindCapacity, "%s already holds a seat", participant.Short())
	}
	participantATA, err := stakeBalanceAtLeast(c, participant, g.StakeMint, g.EntryStake)
	if err != nil {
		return Session{}, err
	}
	cfg, err := GetConfig(c)
	if err != nil {
		return Session{}, err
	}
	if !cfg.Allows(g.StakeMint) {
		return Session{}, domain.Errorf(domain.KindConfiguration, "mint %s is not allow-listed", g.StakeMint.Short())
	}
	profile, err := requireProfile(c, participant)
	if err != nil {
		return Session{}, err
	}
	vault, err := VaultAddress(addr, g.StakeMint)
	if err != nil {
		return Session{}, err
	}
	if vault != g.GameVault {
		return Session{}, domain.Errorf(domain.KindConsistency, "session vault %s is not the derived custody account", g.GameVault.Short())
	}
	m, err := token.GetMint(c, g.StakeMint)
	if err != nil {
		return Session{}, err
	}

	g.Players = append(g.Players, domain.Player{Owner: participant, Username: profile.Username})
	if err := token.TransferChecked(c, participantATA, g.StakeMint, vault, participant, g.EntryStake, m.Decimals); err != nil {
		return Session{}, err
	}
	if g.Full() {
		g.Delegated = true
	}
	if err := put(c, addr, gameTag, g); err != nil {
		return Session{}, err
	}
	if g.Delegated {
		if err := p.delegator.Delegate(c, participant, addr, g); err != nil {
			return Session{}, err
		}
	}
	return Session{Address: addr, Vault: vault, State: g}, nil
}

func stakeBalanceAtLeast(c *ledger.Context, owner, mint domain.Address, want uint64) (domain.Address, error) {
	ata, _, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return domain.Address{}, err
	}
	held, err := token.Balance(c, ata)
	if err != nil {
		return domain.Address{}, err
	}
	if held < want {
		return domain.Address{}, domain.Errorf(domain.KindArithmetic, "%s holds %d, stake is %d", owner.Short(), held, want)
	}
	return ata, nil
}
