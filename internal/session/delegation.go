package session

import (
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
)

// Delegator hands a full session to the downstream executor. It runs inside
// the joining unit; an error aborts the join.
type Delegator interface {
	Delegate(c *ledger.Context, payer, game domain.Address, state domain.Game) error
}

// LedgerDelegator transfers ownership of the session account to the
// delegation program and records the hand-off next to it.
type LedgerDelegator struct{}

func (LedgerDelegator) Delegate(c *ledger.Context, payer, game domain.Address, state domain.Game) error {
	if err := c.Assign(game, DelegationProgramID); err != nil {
		return err
	}
	addr, bump, err := DelegationAddress(game)
	if err != nil {
		return err
	}
	dc := c.Invoke(DelegationProgramID)
	if _, err := ledger.CreateDerived(dc, payer, derive.WithBump(delegationSeeds(game), bump), DelegationSpace, DelegationProgramID); err != nil {
		return err
	}
	rec := domain.Delegation{
		Session:     game,
		Owner:       state.Owner,
		DelegatedAt: c.Now().Unix(),
		Bump:        bump,
	}
	return put(dc, addr, delegationTag, rec)
}
